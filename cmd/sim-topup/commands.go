package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/hochfrequenz/sim-topup/internal/device"
	"github.com/hochfrequenz/sim-topup/internal/domain"
	"github.com/hochfrequenz/sim-topup/internal/events"
	"github.com/hochfrequenz/sim-topup/internal/importer"
	"github.com/hochfrequenz/sim-topup/internal/jobstore"
	"github.com/hochfrequenz/sim-topup/tui"
	"github.com/hochfrequenz/sim-topup/web/api"
	"github.com/spf13/cobra"
)

var (
	addBank     string
	addProvider string
	addAmount   int
	listStatus  string
	listLimit   int
	expireOlder time.Duration
	servePort   int
)

func init() {
	// jobs command group
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage top-up jobs",
	}

	addCmd := &cobra.Command{
		Use:   "add NUMBER...",
		Short: "Queue top-ups for phone numbers",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runJobsAdd,
	}
	addCmd.Flags().StringVar(&addBank, "bank", string(domain.DefaultBank), "bank app to pay with")
	addCmd.Flags().StringVar(&addProvider, "provider", "", "carrier (default: resolved from the number prefix)")
	addCmd.Flags().IntVar(&addAmount, "amount", 0, "amount in UAH (default: carrier default)")
	jobsCmd.AddCommand(addCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE:  runJobsList,
	}
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status (new, processing, success, failure)")
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum jobs to show (0 for all)")
	jobsCmd.AddCommand(listCmd)

	importCmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import jobs from YAML or plain text files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runJobsImport,
	}
	jobsCmd.AddCommand(importCmd)

	expireCmd := &cobra.Command{
		Use:   "expire",
		Short: "Fail jobs stuck in processing",
		RunE:  runJobsExpire,
	}
	expireCmd.Flags().DurationVar(&expireOlder, "older-than", 0, "lease age to expire (default: maintenance.stale_after)")
	jobsCmd.AddCommand(expireCmd)

	rootCmd.AddCommand(jobsCmd)

	// devices command
	devicesCmd := &cobra.Command{
		Use:   "devices",
		Short: "List connected devices",
		RunE:  runDevices,
	}
	rootCmd.AddCommand(devicesCmd)

	// status command
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue totals",
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)

	// tui command
	tuiCmd := &cobra.Command{
		Use:   "tui",
		Short: "Launch TUI dashboard",
		RunE:  runTUI,
	}
	rootCmd.AddCommand(tuiCmd)

	// serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API without running workers",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (default: web.port)")
	rootCmd.AddCommand(serveCmd)
}

func openStore() (*jobstore.Store, error) {
	store, err := jobstore.New(cfg.General.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return store, nil
}

func newDeviceManager() *device.ADBManager {
	return device.NewADBManager(device.ADBConfig{Binary: cfg.ADB.Binary, Debug: cfg.ADB.Debug}, logger)
}

func runJobsAdd(cmd *cobra.Command, args []string) error {
	nj := jobstore.NewJob{Bank: domain.Bank(addBank)}
	if addProvider != "" {
		c, err := domain.ParseCarrier(addProvider)
		if err != nil {
			return err
		}
		nj.Provider = &c
	}
	if addAmount < 0 {
		return fmt.Errorf("amount must be positive")
	}
	if addAmount > 0 {
		nj.Amount = &addAmount
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	for _, number := range args {
		nj.Number = number
		job, err := store.AddJob(cmd.Context(), nj)
		if err != nil {
			return fmt.Errorf("adding %s: %w", number, err)
		}
		fmt.Printf("Queued job #%d for %s\n", job.ID, job.Phone.Number)
	}
	return nil
}

func runJobsList(cmd *cobra.Command, args []string) error {
	opts := jobstore.ListOptions{Status: domain.JobStatus(listStatus), Limit: listLimit}
	if opts.Status != "" && !opts.Status.Valid() {
		return fmt.Errorf("unknown status %q", listStatus)
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	jobs, err := store.ListJobs(cmd.Context(), opts)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNUMBER\tSTATUS\tBANK\tPROVIDER\tAMOUNT\tCREATED")
	for _, j := range jobs {
		provider := string(j.ProviderValue())
		if provider == "" {
			provider = "-"
		}
		amount := "-"
		if j.Amount != nil {
			amount = strconv.Itoa(*j.Amount)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			j.ID, j.Phone.Number, j.Status, j.Bank, provider, amount, humanize.Time(j.CreatedAt))
	}
	w.Flush()

	return nil
}

func runJobsImport(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	im := importer.New(store, nil, logger)
	total := 0
	for _, path := range args {
		jobs, err := im.ImportFile(cmd.Context(), path)
		if err != nil {
			return err
		}
		total += len(jobs)
		fmt.Printf("Imported %d jobs from %s\n", len(jobs), path)
	}
	if len(args) > 1 {
		fmt.Printf("Imported %d jobs total\n", total)
	}
	return nil
}

func runJobsExpire(cmd *cobra.Command, args []string) error {
	olderThan := expireOlder
	if olderThan <= 0 {
		olderThan = cfg.Maintenance.StaleAfter.Duration
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ids, err := store.ExpireStale(cmd.Context(), time.Now().Add(-olderThan))
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Printf("No jobs processing for longer than %s\n", olderThan)
		return nil
	}
	fmt.Printf("Failed %d stale jobs: %v\n", len(ids), ids)
	return nil
}

func runDevices(cmd *cobra.Command, args []string) error {
	devices, err := newDeviceManager().ListConnectedDevices(cmd.Context())
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No devices connected")
		return nil
	}
	for _, d := range devices {
		fmt.Println(d.Serial())
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	counts, err := store.CountByStatus(cmd.Context())
	if err != nil {
		return err
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	fmt.Printf("Jobs: %d total | %d new | %d processing | %d success | %d failure\n",
		total, counts[domain.StatusNew], counts[domain.StatusProcessing],
		counts[domain.StatusSuccess], counts[domain.StatusFailure])

	return nil
}

func runTUI(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	return runDashboard(store, newDeviceManager(), nil)
}

// runDashboard runs the TUI until the user quits. hub is nil when no
// orchestrator runs in this process.
func runDashboard(store *jobstore.Store, devices device.Manager, hub *events.Hub) error {
	mc := tui.ModelConfig{Source: tui.StoreSource{Store: store, Devices: devices}}
	if hub != nil {
		history, ch, unsubscribe := hub.SubscribeWithHistory(256)
		defer unsubscribe()
		mc.Events = ch
		mc.History = history
	}

	p := tea.NewProgram(tui.NewModel(mc), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func webAddr(port int) string {
	if port == 0 {
		port = cfg.Web.Port
	}
	return fmt.Sprintf("%s:%d", cfg.Web.Host, port)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	addr := webAddr(servePort)
	server := api.NewServer(store, newDeviceManager(), nil, addr, logger)

	fmt.Printf("Serving API at http://%s\n", addr)
	return server.Start(ctx)
}
