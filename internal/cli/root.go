// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package cli implements the modeldl command line interface.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wolfgrimmm/comfyui-runpod-installer/internal/config"
	"github.com/wolfgrimmm/comfyui-runpod-installer/pkg/downloader"
)

// RootOpts holds global CLI options.
type RootOpts struct {
	Token    string
	Catalog  string
	CacheDir string
}

// Execute runs the CLI with the given version string.
func Execute(version string) error {
	ro := &RootOpts{}
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	root := &cobra.Command{
		Use:           "modeldl",
		Short:         "Resumable, verified downloader for ComfyUI model weights",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	root.PersistentFlags().StringVarP(&ro.Token, "token", "t", "", "Hugging Face access token (also reads HF_TOKEN env)")
	root.PersistentFlags().StringVar(&ro.Catalog, "catalog", "", "Path to a YAML model catalog (merged over the built-in catalog)")
	root.PersistentFlags().StringVar(&ro.CacheDir, "cache-dir", ".", "Directory for the hash and verification caches")

	downloadCmd := newDownloadCmd(ctx, ro)
	root.AddCommand(downloadCmd)
	root.AddCommand(newVersionCmd(version))
	root.AddCommand(newServeCmd(ro))
	root.AddCommand(newCatalogCmd(ro))

	// Download is the default command when no subcommand is given.
	root.RunE = downloadCmd.RunE
	root.Flags().AddFlagSet(downloadCmd.Flags())
	root.SetHelpCommand(&cobra.Command{Use: "help", Hidden: true})

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

func newDownloadCmd(ctx context.Context, ro *RootOpts) *cobra.Command {
	var (
		model  string
		dir    string
		repo   string
		folder string
		files  []string
		saveAs string
		conns  int
	)

	cmd := &cobra.Command{
		Use:   "download [MODEL]",
		Short: "Download a model set from the catalog, or an arbitrary repository",
		Long: `Download model weights with resume, parallel chunks and SHA256 verification.

With a catalog key (or --model) the named set is downloaded to its default
directory. With --repo an arbitrary repository (optionally narrowed by
--folder or --file) is downloaded instead. With neither, an interactive
menu lists the catalog.

Files that already exist and verify are skipped, so re-running after an
interruption only fetches what is missing. Individual failures do not stop
the rest of the batch; the command reports them in the summary and still
exits zero.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := loadCatalog(ro)
			if err != nil {
				return err
			}

			if model == "" && len(args) > 0 {
				model = args[0]
			}

			if repo != "" {
				if saveAs != "" && len(files) != 1 {
					return fmt.Errorf("--save-as requires exactly one --file")
				}
				set := config.ModelSet{Repo: repo, Folder: folder, DefaultDir: "."}
				for _, f := range files {
					set.Files = append(set.Files, config.ModelFile{Remote: f, Local: saveAs})
				}
				return runDownload(ctx, ro, set, dir, conns)
			}

			if model == "" {
				model, err = chooseModel(cat)
				if err != nil {
					return err
				}
				if model == "" {
					return nil
				}
			}

			set, ok := cat[model]
			if !ok {
				return fmt.Errorf("unknown model %q (known: %s)", model, strings.Join(cat.Keys(), ", "))
			}
			return runDownload(ctx, ro, set, dir, conns)
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "Catalog key of the model set to download")
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Destination directory (overrides the set's default)")
	cmd.Flags().StringVarP(&repo, "repo", "r", "", "Repository ID (owner/name) for ad-hoc downloads")
	cmd.Flags().StringVar(&folder, "folder", "", "Repository folder to scan (with --repo)")
	cmd.Flags().StringSliceVarP(&files, "file", "f", nil, "Exact repository path to download (with --repo, repeatable)")
	cmd.Flags().StringVar(&saveAs, "save-as", "", "Local filename for a single --file download")
	cmd.Flags().IntVarP(&conns, "connections", "c", 0, "Parallel connections per large file")

	return cmd
}

func runDownload(ctx context.Context, ro *RootOpts, set config.ModelSet, dirOverride string, conns int) error {
	dir := set.DefaultDir
	if dirOverride != "" {
		dir = dirOverride
	}

	cfg := downloader.DefaultSettings()
	cfg.Token = resolveToken(ro)
	cfg.CacheDir = ro.CacheDir
	if conns > 0 {
		cfg.Connections = conns
	}

	dl := downloader.New(cfg)
	con := dl.Console()
	defer con.Finalize("")

	con.Logf("Repository: %s", set.Repo)
	if set.Folder != "" {
		con.Logf("Folder: %s", set.Folder)
	}
	con.Logf("Destination: %s", dir)

	// Explicit file lists honor per-file renames; otherwise scan the folder.
	if len(set.Files) > 0 {
		var res downloader.BatchResult
		for i, f := range set.Files {
			con.Logf("[%d/%d] Downloading %s", i+1, len(set.Files), f.Remote)
			err := dl.DownloadFile(ctx, downloader.Target{
				Repo:       set.Repo,
				RemotePath: f.Remote,
				Subfolder:  set.Folder,
			}, downloader.Destination{Dir: dir, Filename: f.Local})
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				res.Failed++
				res.FailedFiles = append(res.FailedFiles, f.Remote)
				continue
			}
			res.Downloaded++
		}
		con.Log(res.Summary())
		return nil
	}

	scanned, err := dl.ScanRepo(ctx, set.Repo, nil, set.Folder)
	if err != nil {
		return fmt.Errorf("scan %s: %w", set.Repo, err)
	}
	if len(scanned) == 0 {
		con.Logf("[WARNING] No files found in %s", set.Repo)
		return nil
	}

	res := dl.DownloadAll(ctx, set.Repo, scanned, dir, set.Folder)
	con.Log(res.Summary())
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// chooseModel prints the catalog menu and reads a selection from stdin. An
// empty return with nil error means the user quit.
func chooseModel(cat config.Catalog) (string, error) {
	keys := cat.Keys()
	fmt.Println("Available models:")
	for i, k := range keys {
		set := cat[k]
		fmt.Printf("%d. %s\n", i+1, set.Name)
		if set.Description != "" {
			fmt.Printf("   - %s\n", set.Description)
		}
		fmt.Printf("   - Default directory: %s\n", set.DefaultDir)
	}
	fmt.Printf("Select a model [1-%d], or q to quit: ", len(keys))

	sc := bufio.NewScanner(os.Stdin)
	if !sc.Scan() {
		return "", sc.Err()
	}
	choice := strings.TrimSpace(sc.Text())
	if choice == "" || strings.EqualFold(choice, "q") {
		return "", nil
	}
	n, err := strconv.Atoi(choice)
	if err != nil || n < 1 || n > len(keys) {
		return "", fmt.Errorf("invalid selection %q", choice)
	}
	return keys[n-1], nil
}

func loadCatalog(ro *RootOpts) (config.Catalog, error) {
	if ro.Catalog == "" {
		return config.DefaultCatalog(), nil
	}
	return config.Load(ro.Catalog)
}

func resolveToken(ro *RootOpts) string {
	tok := strings.TrimSpace(ro.Token)
	if tok == "" {
		tok = strings.TrimSpace(os.Getenv("HF_TOKEN"))
	}
	return tok
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
