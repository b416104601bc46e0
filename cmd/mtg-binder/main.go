package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"

	"github.com/ramonehamilton/mtg-binder/internal/auth"
	"github.com/ramonehamilton/mtg-binder/internal/cache"
	"github.com/ramonehamilton/mtg-binder/internal/catalog"
	"github.com/ramonehamilton/mtg-binder/internal/collection"
	"github.com/ramonehamilton/mtg-binder/internal/config"
	"github.com/ramonehamilton/mtg-binder/internal/ledger"
	"github.com/ramonehamilton/mtg-binder/internal/products"
	"github.com/ramonehamilton/mtg-binder/internal/report"
	"github.com/ramonehamilton/mtg-binder/internal/scryfall"
	"github.com/ramonehamilton/mtg-binder/internal/sharing"
)

var (
	// Scope and view flags
	setList   = flag.String("sets", "", "Comma-separated set codes overriding the configured collections")
	scope     = flag.String("scope", collection.ScopeAll, "View scope: \"all\" or a single set code")
	sortBy    = flag.String("sort", "number-asc", "Sort order: number-asc, number-desc, price-asc, price-desc")
	ownership = flag.String("ownership", "all", "Ownership filter: all, owned, missing")
	booster   = flag.String("booster", "all", "Booster filter: all, play, collector")
	search    = flag.String("search", "", "Case-insensitive search on name or collector number")
	groupSets = flag.Bool("group-by-set", true, "Group the all-sets view by set")

	// Action flags
	listCards  = flag.Bool("list", false, "Print the filtered, sorted view")
	showStats  = flag.Bool("stats", false, "Print collection statistics for the scope")
	drainAll   = flag.Bool("drain", false, "Fetch all remaining catalog pages before acting")
	refresh    = flag.Bool("refresh", false, "Discard loaded pages for the scope and refetch from the start")
	reportPath = flag.String("report", "", "Render a progress chart HTML file to this path")

	// Ledger mutation flags
	toggleCard  = flag.String("toggle", "", "Toggle ownership for a card id")
	quantityVal = flag.Int("quantity", -1, "Set quantity for the card given with -card")
	cardID      = flag.String("card", "", "Card id for -quantity")
	finishName  = flag.String("finish", "nonfoil", "Finish for ledger mutations: nonfoil or foil")

	// Sharing flags
	sharedToken = flag.String("shared", "", "View a shared collection by token")
	enableShare = flag.Bool("share", false, "Ensure a share token exists and print it")
	idToken     = flag.String("id-token", "", "Firebase ID token identifying the acting user")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	setOrder, err := resolveSetOrder(*setList, *scope, cfg.Settings())
	if err != nil {
		return err
	}

	var store *cache.Store
	if cfg.Cache.Enabled {
		path := cfg.Cache.Path
		if path == "" {
			var err error
			if path, err = config.DataPath("cache.db"); err != nil {
				return err
			}
		}
		if store, err = cache.Open(path); err != nil {
			return fmt.Errorf("failed to open cache: %w", err)
		}
		defer store.Close()
	}

	client := scryfall.NewClient(cfg.Scryfall.UserAgent)
	fetcher := catalog.NewFetcher(client, store)
	totals := catalog.NewTotalResolver(client, store)

	// Remote backend misconfiguration degrades to local-only, never fails.
	fsClient, verifier := openFirebase(ctx, cfg)
	if fsClient != nil {
		defer fsClient.Close()
	}

	identity := resolveIdentity(ctx, verifier)

	ledgerStore, err := openLedger(ctx, cfg, fsClient, identity)
	if err != nil {
		return err
	}
	defer ledgerStore.Close()

	var shareSvc *sharing.Service
	if fsClient != nil {
		shareSvc = sharing.NewService(fsClient)
		ledgerStore.SetMirror(shareSvc)
	}

	engine := collection.NewEngine(fetcher, totals, ledgerStore, collection.Options{
		SetOrder:    setOrder,
		RenderBatch: cfg.View.RenderBatch,
	})
	defer engine.Close()

	if *booster != "all" {
		mtgjson := products.NewClient(cfg.View.MasterSet)
		boosterMap, err := mtgjson.BoosterMap(ctx, setOrder)
		if err != nil {
			// Optional enrichment: the filter is simply inert without it.
			log.Printf("Booster metadata unavailable: %v", err)
		} else {
			engine.SetBoosterMap(boosterMap)
		}
	}

	if *sharedToken != "" {
		return showShared(ctx, shareSvc, *sharedToken)
	}

	if *refresh {
		fetcher.RefreshAll(scopeSets(*scope, setOrder))
	}

	for _, setCode := range scopeSets(*scope, setOrder) {
		if *drainAll {
			if err := fetcher.Drain(ctx, setCode); err != nil {
				return fmt.Errorf("failed to drain %s: %w", setCode, err)
			}
		} else if _, err := fetcher.FetchNextPage(ctx, setCode); err != nil {
			log.Printf("Initial page fetch failed for %s: %v", setCode, err)
		}
	}

	if *toggleCard != "" {
		return mutateToggle(ctx, engine, ledgerStore, *toggleCard)
	}
	if *quantityVal >= 0 {
		if *cardID == "" {
			return fmt.Errorf("-quantity requires -card")
		}
		return mutateQuantity(ctx, engine, ledgerStore, *cardID, *quantityVal)
	}

	if *enableShare {
		return ensureShare(ctx, shareSvc, identity, ledgerStore)
	}

	if *reportPath != "" {
		return renderReport(ctx, engine, setOrder, *reportPath)
	}

	if *showStats {
		printStats(engine.Stats(ctx, *scope))
	}
	if *listCards || !*showStats {
		printView(engine.ComputeView(ctx, buildQuery()))
	}
	return nil
}

func scopeSets(scope string, setOrder []string) []string {
	if scope == collection.ScopeAll {
		return setOrder
	}
	return []string{scope}
}

// resolveSetOrder derives the visible set order from the collection settings,
// with the -sets flag as an explicit override, and validates the scope
// against it.
func resolveSetOrder(flagValue, scope string, settings collection.Settings) ([]string, error) {
	if setOrder := splitSets(flagValue); len(setOrder) > 0 {
		for _, setCode := range setOrder {
			if scope == setCode || scope == collection.ScopeAll {
				return setOrder, nil
			}
		}
		return nil, fmt.Errorf("scope %q is not among -sets", scope)
	}

	visible := collection.VisibleSets(settings, collection.Sets)
	if len(visible) == 0 {
		return nil, fmt.Errorf("no sets visible: enable collections in the config or pass -sets")
	}
	if !collection.IsValidScope(scope, visible) {
		return nil, fmt.Errorf("scope %q is not a visible set", scope)
	}

	setOrder := make([]string, len(visible))
	for i, set := range visible {
		setOrder[i] = set.ID
	}
	return setOrder, nil
}

func buildQuery() collection.Query {
	q := collection.Query{
		Scope:      *scope,
		Search:     *search,
		GroupBySet: *groupSets,
	}
	switch *sortBy {
	case "number-desc":
		q.Sort = collection.SortNumberDesc
	case "price-asc":
		q.Sort = collection.SortPriceAsc
	case "price-desc":
		q.Sort = collection.SortPriceDesc
	default:
		q.Sort = collection.SortNumberAsc
	}
	switch *ownership {
	case "owned":
		q.Ownership = collection.OwnershipOwned
	case "missing":
		q.Ownership = collection.OwnershipMissing
	}
	switch *booster {
	case "play":
		q.Booster = collection.BoosterPlay
	case "collector":
		q.Booster = collection.BoosterCollector
	}
	return q
}

func parseFinish() scryfall.Finish {
	if *finishName == "foil" {
		return scryfall.FinishFoil
	}
	return scryfall.FinishNonfoil
}

// openFirebase initializes the Firestore client and token verifier when a
// project is configured. Any failure logs and returns nils: the application
// degrades to local-only mode.
func openFirebase(ctx context.Context, cfg *config.Config) (*firestore.Client, *auth.Verifier) {
	if cfg.Firebase.ProjectID == "" {
		return nil, nil
	}

	var opts []option.ClientOption
	if cfg.Firebase.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.Firebase.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.Firebase.ProjectID}, opts...)
	if err != nil {
		log.Printf("Firebase unavailable, running local-only: %v", err)
		return nil, nil
	}

	fsClient, err := app.Firestore(ctx)
	if err != nil {
		log.Printf("Firestore unavailable, running local-only: %v", err)
		return nil, nil
	}

	verifier, err := auth.NewVerifier(ctx, app)
	if err != nil {
		log.Printf("Auth unavailable: %v", err)
		verifier = nil
	}
	return fsClient, verifier
}

// resolveIdentity maps the -id-token flag to an identity. A missing token or
// failed verification means anonymous local-only operation.
func resolveIdentity(ctx context.Context, verifier *auth.Verifier) *auth.Identity {
	if verifier == nil || *idToken == "" {
		return nil
	}
	identity, err := verifier.VerifyIDToken(ctx, *idToken)
	if err != nil {
		log.Printf("Identity verification failed, continuing anonymously: %v", err)
		return nil
	}
	return identity
}

func openLedger(ctx context.Context, cfg *config.Config, fsClient *firestore.Client, identity *auth.Identity) (ledger.Store, error) {
	if cfg.Ledger.Backend == "firestore" {
		if fsClient != nil && identity != nil {
			return ledger.OpenRemoteStore(ctx, fsClient, identity.UID)
		}
		log.Println("Remote ledger unavailable; falling back to the file ledger")
	}

	path := cfg.Ledger.Path
	if path == "" {
		var err error
		if path, err = config.DataPath("ledger.json"); err != nil {
			return nil, err
		}
	}
	return ledger.OpenFileStore(path, cfg.LedgerPassphrase())
}

func mutateToggle(ctx context.Context, engine *collection.Engine, store ledger.Store, id string) error {
	info, err := lookupCardInfo(ctx, engine, id)
	if err != nil {
		return err
	}
	if err := store.Toggle(ctx, id, info, parseFinish()); err != nil {
		return err
	}
	fmt.Printf("Toggled %s (%s) for %s\n", info.Name, *finishName, id)
	return nil
}

func mutateQuantity(ctx context.Context, engine *collection.Engine, store ledger.Store, id string, quantity int) error {
	info, err := lookupCardInfo(ctx, engine, id)
	if err != nil {
		return err
	}
	if err := store.SetQuantity(ctx, id, info, parseFinish(), quantity); err != nil {
		return err
	}
	fmt.Printf("Set %s (%s) quantity to %d\n", info.Name, *finishName, quantity)
	return nil
}

func lookupCardInfo(ctx context.Context, engine *collection.Engine, id string) (ledger.CardInfo, error) {
	for _, row := range engine.ComputeView(ctx, collection.Query{Scope: collection.ScopeAll}) {
		if row.Card.ID == id {
			return ledger.CardInfo{
				SetCode:         row.Card.SetCode,
				CollectorNumber: row.Card.CollectorNumber,
				Name:            row.Card.Name,
			}, nil
		}
	}
	return ledger.CardInfo{}, fmt.Errorf("card %s not found in the loaded catalog (try -drain)", id)
}

func ensureShare(ctx context.Context, svc *sharing.Service, identity *auth.Identity, store ledger.Store) error {
	if svc == nil {
		return fmt.Errorf("sharing requires a configured firebase project")
	}
	if identity == nil {
		return fmt.Errorf("sharing requires -id-token")
	}
	token, err := svc.EnsureShareToken(ctx, *identity, store.Snapshot())
	if err != nil {
		return err
	}
	fmt.Printf("Share token: %s\n", token)
	return nil
}

func showShared(ctx context.Context, svc *sharing.Service, token string) error {
	if svc == nil {
		return fmt.Errorf("shared collections require a configured firebase project")
	}
	shared, err := svc.LoadShared(ctx, token)
	if errors.Is(err, sharing.ErrNotFound) || errors.Is(err, sharing.ErrDisabled) {
		fmt.Println(err)
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Printf("%s's collection (%d cards)\n", shared.Owner.DisplayName, len(shared.Records))
	for _, rec := range shared.Records {
		fmt.Printf("  [%s %s] %s  nonfoil x%d  foil x%d\n",
			strings.ToUpper(rec.SetCode), rec.CollectorNumber, rec.Name, rec.QuantityNonfoil, rec.QuantityFoil)
	}
	return nil
}

func renderReport(ctx context.Context, engine *collection.Engine, setOrder []string, path string) error {
	progress := make([]report.SetProgress, 0, len(setOrder))
	for _, setCode := range setOrder {
		progress = append(progress, report.SetProgress{
			SetCode: setCode,
			SetName: setDisplayName(setCode),
			Stats:   engine.Stats(ctx, setCode),
		})
	}
	if err := report.RenderProgressChart(progress, report.DefaultChartConfig(), path); err != nil {
		return err
	}
	fmt.Printf("Report written to %s\n", path)
	return nil
}

func setDisplayName(setCode string) string {
	for _, set := range collection.Sets {
		if set.ID == setCode {
			return set.Name
		}
	}
	return strings.ToUpper(setCode)
}

func printStats(stats collection.Stats) {
	fmt.Printf("Owned %d of %d cards (%d%%), value %.2f EUR\n",
		stats.OwnedCount, stats.TotalCards, stats.Percentage, stats.TotalValue)
}

func printView(rows []collection.Row) {
	for _, row := range rows {
		variant := "both"
		if row.Variant != "" {
			variant = string(row.Variant)
		}
		price := collection.FormatPriceString(row.Card.Prices.EUR)
		if row.Variant == scryfall.FinishFoil {
			price = collection.FormatPriceString(row.Card.Prices.EURFoil)
		}
		fmt.Printf("[%s %s] %-40s %-8s %s\n",
			strings.ToUpper(row.Card.SetCode), row.Card.CollectorNumber, row.Card.Name, variant, price)
	}
	fmt.Printf("%d entries\n", len(rows))
}

func splitSets(list string) []string {
	var out []string
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(strings.ToLower(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
