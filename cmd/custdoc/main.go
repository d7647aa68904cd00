package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"custdoc/internal/app"
	"custdoc/internal/config"
	"custdoc/internal/docs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		switch {
		case errors.Is(err, docs.ErrConflict), errors.Is(err, docs.ErrReloadRequired):
			fmt.Fprintln(os.Stderr, "The database was changed by another client. Nothing was merged; run the command again to work on the latest version.")
		case errors.Is(err, docs.ErrUnauthorized):
			fmt.Fprintln(os.Stderr, "The remote rejected the token. Run 'custdoc login' to store a new one.")
		}
		stop()
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies environment overrides.
func loadConfig() (*config.Config, string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.Load(defaults.ConfigPath)
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	return cfg, defaults.ConfigPath, nil
}

// newApp reads the config and creates an App. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "AddCustomer").
func newApp(cmd *cobra.Command, operation string) (*app.App, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	verbose, _ := cmd.Flags().GetBool("verbose")

	a, err := app.NewApp(cmd.Context(), cfg, operation, verbose)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

var rootCmd = &cobra.Command{
	Use:          "custdoc",
	Short:        "Customer and document tracker backed by a Git repository",
	SilenceUsage: true,
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

		cfg := config.NewConfig(defaults.BaseDir)
		cfg.Remote.Owner, _ = cmd.Flags().GetString("owner")
		cfg.Remote.Repo, _ = cmd.Flags().GetString("repo")

		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Base Dir: %s\n", defaults.BaseDir)
		fmt.Println("Run 'custdoc login' to store an access token.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}

		r := cfg.Remote
		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Remote:      %s (%s)\n", r.Name, r.Type)
		switch r.Type {
		case "github":
			fmt.Printf("Repository:  %s/%s@%s\n", r.Owner, r.Repo, r.Branch)
			fmt.Printf("API:         %s\n", r.APIBase)
			fmt.Printf("Token:       %s\n", maskToken(r.Token))
		case "filesystem":
			fmt.Printf("Root:        %s\n", r.FSRoot)
		case "s3":
			fmt.Printf("Bucket:      %s/%s\n", r.S3Bucket, r.S3Prefix)
		}
		fmt.Printf("Database:    %s\n", r.DBPath)
		fmt.Printf("Attachments: %s/ (max %s)\n", r.AttachmentsPrefix, humanize.IBytes(uint64(cfg.Attachments.MaxSize)))
		fmt.Printf("Encryption:  %s\n", cfg.Encryption.Type)
		fmt.Printf("Journal:     %s\n", cfg.Journal.Type)
		return nil
	},
}

func maskToken(token string) string {
	switch {
	case token == "":
		return "(not set)"
	case len(token) <= 8:
		return "****"
	default:
		return token[:4] + strings.Repeat("*", 8)
	}
}

// login command
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store the access token for the remote repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}

		if owner, _ := cmd.Flags().GetString("owner"); owner != "" {
			cfg.Remote.Owner = owner
		}
		if repo, _ := cmd.Flags().GetString("repo"); repo != "" {
			cfg.Remote.Repo = repo
		}
		token, err := readSecret("Token: ")
		if err != nil {
			return fmt.Errorf("reading token: %w", err)
		}
		cfg.Remote.Token = strings.TrimSpace(token)

		if cfg.Remote.Type == "github" && (cfg.Remote.Owner == "" || cfg.Remote.Repo == "" || cfg.Remote.Token == "") {
			return fmt.Errorf("owner, repo and token are all required")
		}
		if err := config.Save(path, cfg); err != nil {
			return err
		}

		fmt.Printf("Token saved for %s/%s\n", cfg.Remote.Owner, cfg.Remote.Repo)
		return nil
	},
}

// init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the database in the remote repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Init")
		if err != nil {
			return err
		}
		defer a.Close()

		if a.EncryptionEnabled() && !a.EncryptionConfigured() {
			pass, err := readNewPassphrase()
			if err != nil {
				return err
			}
			if err := a.SetupEncryption(pass); err != nil {
				return fmt.Errorf("setting up encryption: %w", err)
			}
			fmt.Println("Encryption keys created.")
		}
		if a.EncryptionEnabled() {
			if recipient, err := a.EncryptionRecipient(); err == nil {
				fmt.Printf("Attachments are encrypted to %s\n", recipient)
			}
		}

		created, err := a.Init(cmd.Context())
		if err != nil {
			return fmt.Errorf("initializing database: %w", err)
		}
		if created {
			fmt.Println("Database created.")
		} else {
			fmt.Println("Database already exists.")
		}
		return nil
	},
}

// customer command
var customerCmd = &cobra.Command{
	Use:     "customer",
	Aliases: []string{"customers", "c"},
	Short:   "Manage customers",
}

var customerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List customers",
	RunE: func(cmd *cobra.Command, args []string) error {
		query, _ := cmd.Flags().GetString("query")

		a, err := newApp(cmd, "ListCustomers")
		if err != nil {
			return err
		}
		defer a.Close()

		customers, err := a.Customers(cmd.Context(), query)
		if err != nil {
			return err
		}
		if len(customers) == 0 {
			fmt.Println("No customers found.")
			return nil
		}

		for _, c := range customers {
			fmt.Printf("%s  %-30s  %-30s  %d doc(s)  %d file(s)\n",
				c.ID, c.Name, c.Contact, len(c.Documents), len(c.Files))
		}
		return nil
	},
}

var customerAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Add a customer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		contact, _ := cmd.Flags().GetString("contact")

		a, err := newApp(cmd, "AddCustomer")
		if err != nil {
			return err
		}
		defer a.Close()

		c, err := a.AddCustomer(cmd.Context(), args[0], contact)
		if err != nil {
			return err
		}
		fmt.Printf("Added customer %s (%s)\n", c.Name, c.ID)
		return nil
	},
}

var customerShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show a customer with documents and files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ShowCustomer")
		if err != nil {
			return err
		}
		defer a.Close()

		c, err := a.Customer(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("%s\n", c.Name)
		fmt.Printf("  ID:      %s\n", c.ID)
		fmt.Printf("  Contact: %s\n", c.Contact)
		fmt.Printf("  Created: %s (%s)\n", c.CreatedAt.Format("2006-01-02"), humanize.Time(c.CreatedAt))

		fmt.Printf("\nDocuments (%d):\n", len(c.Documents))
		for _, d := range c.Documents {
			fmt.Printf("  %s  %s  %-10s  %s\n", d.ID, d.Date, d.Status, d.Title)
		}

		fmt.Printf("\nFiles (%d):\n", len(c.Files))
		for _, f := range c.Files {
			lock := ""
			if f.Encrypted {
				lock = "  [encrypted]"
			}
			fmt.Printf("  %s  %-30s  %8s -> %-8s  %s%s\n",
				f.ID, f.Name,
				humanize.Bytes(uint64(f.OriginalSize)),
				humanize.Bytes(uint64(f.CompressedSize)),
				f.UploadDate.Format("2006-01-02"),
				lock,
			)
		}
		return nil
	},
}

var customerContactCmd = &cobra.Command{
	Use:   "contact ID VALUE",
	Short: "Update a customer's contact details",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "UpdateContact")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.UpdateContact(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Println("Contact updated.")
		return nil
	},
}

var customerDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a customer with all documents and files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "DeleteCustomer")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.DeleteCustomer(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("Customer deleted.")
		return nil
	},
}

// doc command
var docCmd = &cobra.Command{
	Use:     "doc",
	Aliases: []string{"docs", "d"},
	Short:   "Manage documents",
}

var docAddCmd = &cobra.Command{
	Use:   "add CUSTOMER TITLE",
	Short: "Add a document",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var status docs.DocumentStatus
		if s, _ := cmd.Flags().GetString("status"); s != "" {
			parsed, err := docs.ParseDocumentStatus(s)
			if err != nil {
				return err
			}
			status = parsed
		}

		a, err := newApp(cmd, "AddDocument")
		if err != nil {
			return err
		}
		defer a.Close()

		d, err := a.AddDocument(cmd.Context(), args[0], args[1], status)
		if err != nil {
			return err
		}
		fmt.Printf("Added document %s (%s, %s)\n", d.Title, d.ID, d.Status)
		return nil
	},
}

var docStatusCmd = &cobra.Command{
	Use:   "status CUSTOMER DOC STATUS",
	Short: "Change a document's status",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := docs.ParseDocumentStatus(args[2])
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "SetDocumentStatus")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.SetDocumentStatus(cmd.Context(), args[0], args[1], status); err != nil {
			return err
		}
		fmt.Printf("Status set to %s.\n", status)
		return nil
	},
}

var docDeleteCmd = &cobra.Command{
	Use:   "delete CUSTOMER DOC",
	Short: "Delete a document",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "DeleteDocument")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.DeleteDocument(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Println("Document deleted.")
		return nil
	},
}

// localFileName reduces a name taken from the remote database to a plain
// file name in the working directory.
func localFileName(name string) (string, error) {
	base := filepath.Base(filepath.FromSlash(strings.ReplaceAll(name, "\\", "/")))
	if base == "." || base == ".." || base == string(filepath.Separator) || !filepath.IsLocal(base) {
		return "", fmt.Errorf("attachment name %q is not a valid file name; use --output", name)
	}
	return base, nil
}

// attach command
var attachCmd = &cobra.Command{
	Use:     "attach",
	Aliases: []string{"files", "a"},
	Short:   "Manage attachments",
}

var attachAddCmd = &cobra.Command{
	Use:   "add CUSTOMER FILE...",
	Short: "Upload files to a customer",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "UploadFiles")
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.UploadFiles(cmd.Context(), args[0], args[1:])
		if result != nil {
			for _, s := range result.Stored {
				fmt.Printf("Stored  %s  %s -> %s (%s)\n", s.Name,
					humanize.Bytes(uint64(s.OriginalSize)),
					humanize.Bytes(uint64(s.CompressedSize)),
					s.Compression)
			}
			for _, f := range result.Failed {
				fmt.Printf("Failed  %s: %v\n", f.Name, f.Err)
			}
		}
		if err != nil {
			return err
		}
		if len(result.Failed) > 0 {
			return fmt.Errorf("%d of %d file(s) not uploaded", len(result.Failed), len(args)-1)
		}
		return nil
	},
}

var attachGetCmd = &cobra.Command{
	Use:   "get CUSTOMER ATTACHMENT",
	Short: "Download an attachment",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		extract, _ := cmd.Flags().GetBool("extract")

		a, err := newApp(cmd, "DownloadAttachment")
		if err != nil {
			return err
		}
		defer a.Close()

		att, data, err := a.DownloadAttachment(cmd.Context(), args[0], args[1], func() (string, error) {
			return readSecret("Passphrase: ")
		}, extract)
		if err != nil {
			return err
		}

		if output == "" {
			name := att.Name
			if att.Compression == docs.CompressionZip && !extract {
				name = att.Path
			}
			output, err = localFileName(name)
			if err != nil {
				return err
			}
		}
		if err := os.WriteFile(output, data, 0644); err != nil {
			return fmt.Errorf("writing %s: %w", output, err)
		}
		fmt.Printf("Saved %s (%s)\n", output, humanize.Bytes(uint64(len(data))))
		return nil
	},
}

var attachDeleteCmd = &cobra.Command{
	Use:   "delete CUSTOMER ATTACHMENT",
	Short: "Delete an attachment",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "DeleteAttachment")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.DeleteAttachment(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Println("Attachment deleted.")
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, "GetHistory")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.History(limit)
		if err != nil {
			return err
		}

		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if op.FinishedAt != nil {
				d := op.FinishedAt.Sub(op.StartedAt)
				duration = d.Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-18s  %s  %-8s  %-8s  %s\n",
				op.ID,
				op.Operation,
				op.StartedAt.Local().Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
				op.Message,
			)
		}
		return nil
	},
}

// export command
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print the database as JSON or YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")

		a, err := newApp(cmd, "Export")
		if err != nil {
			return err
		}
		defer a.Close()

		out, err := a.Export(cmd.Context(), format)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Mirror log output to stderr")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().String("owner", "", "Repository owner")
	configInitCmd.Flags().String("repo", "", "Repository name")

	loginCmd.Flags().String("owner", "", "Repository owner")
	loginCmd.Flags().String("repo", "", "Repository name")

	// customer subcommands
	customerCmd.AddCommand(customerListCmd)
	customerListCmd.Flags().StringP("query", "q", "", "Filter by name or contact")
	customerCmd.AddCommand(customerAddCmd)
	customerAddCmd.Flags().String("contact", "", "Contact details")
	customerCmd.AddCommand(customerShowCmd)
	customerCmd.AddCommand(customerContactCmd)
	customerCmd.AddCommand(customerDeleteCmd)

	// doc subcommands
	docCmd.AddCommand(docAddCmd)
	docAddCmd.Flags().String("status", "", "Initial status (Draft, InProgress, Completed, Cancelled)")
	docCmd.AddCommand(docStatusCmd)
	docCmd.AddCommand(docDeleteCmd)

	// attach subcommands
	attachCmd.AddCommand(attachAddCmd)
	attachCmd.AddCommand(attachGetCmd)
	attachGetCmd.Flags().StringP("output", "o", "", "Output file (default: attachment name)")
	attachGetCmd.Flags().Bool("extract", false, "Unpack archived attachments")
	attachCmd.AddCommand(attachDeleteCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(customerCmd)
	rootCmd.AddCommand(docCmd)
	rootCmd.AddCommand(attachCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().String("format", "json", "Output format: json or yaml")
}
