package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"casefs/internal/app"
	"casefs/internal/casefs"
	"casefs/internal/config"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var (
	configPath string
	ownerID    string
)

// loadConfig reads the config file (if present) with environment overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp loads the config and creates an App. The caller must defer a.Close().
func newApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.NewApp(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// printResult writes the {success, data|error} envelope to stdout and
// returns err so the process exits non-zero on failure.
func printResult(data any, err error) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(casefs.NewResult(data, err)); encErr != nil {
		return fmt.Errorf("writing result: %w", encErr)
	}
	return err
}

// ownerAction runs fn against a wired App for the resolved owner and prints its result.
func ownerAction(fn func(ctx context.Context, cmd *cobra.Command, a *app.App, owner string, args []string) (any, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id, err := app.ResolveIdentity(ownerID)
		if err != nil {
			return printResult(nil, err)
		}
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return printResult(nil, err)
		}
		defer a.Close()

		data, err := fn(ctx, cmd, a, id.UserID, args)
		return printResult(data, err)
	}
}

func argOr(args []string, i int, fallback string) string {
	if len(args) > i {
		return args[i]
	}
	return fallback
}

var rootCmd = &cobra.Command{
	Use:           "casefs",
	Short:         "Virtual file and folder store for case documents",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"], uuid.New().String())
		if err := config.Init(configPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", configPath)
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Blob.SigningSecret != "" {
			cfg.Blob.SigningSecret = "********"
		}
		if cfg.Blob.S3SecretAccessKey != "" {
			cfg.Blob.S3SecretAccessKey = "********"
		}

		fmt.Printf("# Configuration from %s\n\n", configPath)
		m := &config.Manager{}
		return m.Write(os.Stdout, cfg)
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the metadata database",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := app.MigrateDatabase(cfg); err != nil {
			return err
		}
		fmt.Println("Database schema is up to date.")
		return nil
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := app.CheckDatabase(cfg); err != nil {
			return err
		}
		fmt.Println("Database schema is up to date.")
		return nil
	},
}

// folder command
var folderCmd = &cobra.Command{
	Use:   "folder",
	Short: "Manage folders",
}

var folderCreateCmd = &cobra.Command{
	Use:   "create PARENT_PATH NAME",
	Short: "Create a folder (use \"\" or / for the root)",
	Args:  cobra.ExactArgs(2),
	RunE: ownerAction(func(ctx context.Context, cmd *cobra.Command, a *app.App, owner string, args []string) (any, error) {
		return a.Service().CreateFolder(ctx, owner, args[0], args[1])
	}),
}

var folderDeleteCmd = &cobra.Command{
	Use:   "delete FOLDER_ID",
	Short: "Delete a folder with everything in it",
	Args:  cobra.ExactArgs(1),
	RunE: ownerAction(func(ctx context.Context, cmd *cobra.Command, a *app.App, owner string, args []string) (any, error) {
		return a.Service().DeleteFolder(ctx, owner, args[0])
	}),
}

var folderRenameCmd = &cobra.Command{
	Use:   "rename FOLDER_ID NAME",
	Short: "Rename a folder",
	Args:  cobra.ExactArgs(2),
	RunE: ownerAction(func(ctx context.Context, cmd *cobra.Command, a *app.App, owner string, args []string) (any, error) {
		return a.Service().RenameFolder(ctx, owner, args[0], args[1])
	}),
}

var folderDetailsCmd = &cobra.Command{
	Use:   "details FOLDER_ID",
	Short: "Show a folder and its item counts",
	Args:  cobra.ExactArgs(1),
	RunE: ownerAction(func(ctx context.Context, cmd *cobra.Command, a *app.App, owner string, args []string) (any, error) {
		return a.Service().FolderDetails(ctx, owner, args[0])
	}),
}

// file commands
var lsCmd = &cobra.Command{
	Use:   "ls [PATH]",
	Short: "List a directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: ownerAction(func(ctx context.Context, cmd *cobra.Command, a *app.App, owner string, args []string) (any, error) {
		return a.Service().List(ctx, owner, argOr(args, 0, ""))
	}),
}

var uploadCmd = &cobra.Command{
	Use:   "upload LOCAL_FILE [PATH]",
	Short: "Upload a local file",
	Args:  cobra.RangeArgs(1, 2),
	RunE: ownerAction(func(ctx context.Context, cmd *cobra.Command, a *app.App, owner string, args []string) (any, error) {
		return a.UploadLocalFile(ctx, owner, args[0], argOr(args, 1, ""))
	}),
}

var importCmd = &cobra.Command{
	Use:   "import LOCAL_DIR [PATH]",
	Short: "Import a local directory tree",
	Args:  cobra.RangeArgs(1, 2),
	RunE: ownerAction(func(ctx context.Context, cmd *cobra.Command, a *app.App, owner string, args []string) (any, error) {
		return a.ImportDirectory(ctx, owner, args[0], argOr(args, 1, ""))
	}),
}

var rmCmd = &cobra.Command{
	Use:   "rm FILE_ID",
	Short: "Delete a file",
	Args:  cobra.ExactArgs(1),
	RunE: ownerAction(func(ctx context.Context, cmd *cobra.Command, a *app.App, owner string, args []string) (any, error) {
		if err := a.Service().Delete(ctx, owner, args[0]); err != nil {
			return nil, err
		}
		return map[string]string{"deleted": args[0]}, nil
	}),
}

var renameCmd = &cobra.Command{
	Use:   "rename FILE_ID NAME",
	Short: "Rename a file",
	Args:  cobra.ExactArgs(2),
	RunE: ownerAction(func(ctx context.Context, cmd *cobra.Command, a *app.App, owner string, args []string) (any, error) {
		return a.Service().Rename(ctx, owner, args[0], args[1])
	}),
}

var cpCmd = &cobra.Command{
	Use:   "cp FILE_ID PATH",
	Short: "Copy a file into a directory",
	Args:  cobra.ExactArgs(2),
	RunE: ownerAction(func(ctx context.Context, cmd *cobra.Command, a *app.App, owner string, args []string) (any, error) {
		return a.Service().Copy(ctx, owner, args[0], args[1])
	}),
}

var mvCmd = &cobra.Command{
	Use:   "mv FILE_ID PATH",
	Short: "Move a file into a directory",
	Args:  cobra.ExactArgs(2),
	RunE: ownerAction(func(ctx context.Context, cmd *cobra.Command, a *app.App, owner string, args []string) (any, error) {
		return a.Service().Move(ctx, owner, args[0], args[1])
	}),
}

var downloadCmd = &cobra.Command{
	Use:   "download FILE_ID",
	Short: "Issue a download link, or save the file with --output",
	Args:  cobra.ExactArgs(1),
	RunE: ownerAction(func(ctx context.Context, cmd *cobra.Command, a *app.App, owner string, args []string) (any, error) {
		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			return a.Service().Download(ctx, owner, args[0])
		}
		return saveFile(ctx, a, owner, args[0], output)
	}),
}

// saveFile streams a file's content into output, removing it on failure.
func saveFile(ctx context.Context, a *app.App, owner, fileID, output string) (any, error) {
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", output, err)
	}
	file, err := a.Service().Fetch(ctx, owner, fileID, f)
	closeErr := f.Close()
	if err == nil && closeErr != nil {
		err = fmt.Errorf("writing %s: %w", output, closeErr)
	}
	if err != nil {
		os.Remove(output)
		return nil, err
	}
	return map[string]any{"file": file, "output": output}, nil
}

var previewCmd = &cobra.Command{
	Use:   "preview FILE_ID",
	Short: "Issue a preview link",
	Args:  cobra.ExactArgs(1),
	RunE: ownerAction(func(ctx context.Context, cmd *cobra.Command, a *app.App, owner string, args []string) (any, error) {
		return a.Service().Preview(ctx, owner, args[0])
	}),
}

var searchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Search file and folder names",
	Args:  cobra.ExactArgs(1),
	RunE: ownerAction(func(ctx context.Context, cmd *cobra.Command, a *app.App, owner string, args []string) (any, error) {
		res, err := a.Service().Search(ctx, owner, args[0])
		if err != nil {
			return nil, err
		}
		return res.Items(), nil
	}),
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show storage usage",
	Args:  cobra.NoArgs,
	RunE: ownerAction(func(ctx context.Context, cmd *cobra.Command, a *app.App, owner string, args []string) (any, error) {
		return a.Service().Stats(ctx, owner)
	}),
}

var breadcrumbCmd = &cobra.Command{
	Use:   "breadcrumb [PATH]",
	Short: "Show the breadcrumb trail of a path",
	Args:  cobra.MaximumNArgs(1),
	RunE: ownerAction(func(ctx context.Context, cmd *cobra.Command, a *app.App, owner string, args []string) (any, error) {
		return a.Service().Breadcrumb(ctx, owner, argOr(args, 0, ""))
	}),
}

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Show recent activity",
	Args:  cobra.NoArgs,
	RunE: ownerAction(func(ctx context.Context, cmd *cobra.Command, a *app.App, owner string, args []string) (any, error) {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		return a.Service().ListActivity(ctx, owner, limit, offset)
	}),
}

var exportCmd = &cobra.Command{
	Use:   "export FOLDER_ID",
	Short: "Export a folder as a zip archive",
	Args:  cobra.ExactArgs(1),
	RunE: ownerAction(func(ctx context.Context, cmd *cobra.Command, a *app.App, owner string, args []string) (any, error) {
		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			details, err := a.Service().FolderDetails(ctx, owner, args[0])
			if err != nil {
				return nil, err
			}
			output = casefs.ArchiveFilename(details.Folder)
		}

		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
		if err != nil {
			return nil, fmt.Errorf("creating %s: %w", output, err)
		}
		archive, err := a.Service().ExportFolder(ctx, owner, args[0], f)
		closeErr := f.Close()
		if err == nil && closeErr != nil {
			err = fmt.Errorf("writing %s: %w", output, closeErr)
		}
		if err != nil {
			os.Remove(output)
			return nil, err
		}
		abs, _ := filepath.Abs(output)
		return map[string]any{"archive": archive, "output": abs}, nil
	}),
}

// sweep command
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete blobs no file references",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		every, _ := cmd.Flags().GetString("every")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return printResult(nil, err)
		}
		defer a.Close()

		if cmd.Flags().Changed("every") {
			return a.RunSweeper(ctx, every)
		}
		return printResult(a.Sweep(ctx, dryRun))
	},
}

func init() {
	defaults, err := app.GetDefaults()
	defaultConfigPath := ""
	if err == nil {
		defaultConfigPath = defaults["config_path"]
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "Config file path")
	rootCmd.PersistentFlags().StringVar(&ownerID, "owner", os.Getenv("CASEFS_OWNER"), "Owning user ID (env CASEFS_OWNER)")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// db subcommands
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbStatusCmd)

	// folder subcommands
	folderCmd.AddCommand(folderCreateCmd)
	folderCmd.AddCommand(folderDeleteCmd)
	folderCmd.AddCommand(folderRenameCmd)
	folderCmd.AddCommand(folderDetailsCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(folderCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(renameCmd)
	rootCmd.AddCommand(cpCmd)
	rootCmd.AddCommand(mvCmd)
	rootCmd.AddCommand(downloadCmd)
	downloadCmd.Flags().StringP("output", "o", "", "Save the content to this file instead of issuing a link")
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(breadcrumbCmd)
	rootCmd.AddCommand(activityCmd)
	activityCmd.Flags().IntP("limit", "n", casefs.DefaultActivityLimit, "Maximum number of entries to show")
	activityCmd.Flags().Int("offset", 0, "Number of entries to skip")
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringP("output", "o", "", "Archive path (default <folder name>.zip)")
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.Flags().String("every", "", "Keep running on this schedule (cron spec or @every <duration>)")
	sweepCmd.Flags().Bool("dry-run", false, "Report orphans without deleting them")
}
