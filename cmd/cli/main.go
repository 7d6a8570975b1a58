// Command capgallery is a terminal client for the CapGallery service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/evlasova/capgallery/internal/api"
	"github.com/evlasova/capgallery/internal/config"
	"github.com/evlasova/capgallery/internal/errs"
	"github.com/evlasova/capgallery/internal/gallery"
	"github.com/evlasova/capgallery/internal/session"
	"github.com/evlasova/capgallery/internal/tokenstore"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func usage() {
	fmt.Fprintf(os.Stderr, `capgallery CLI
Usage:
  capgallery [-config file] [-v] <cmd> [args]

Commands:
  version
  register  -u <username> -e <email> -p <password> -p2 <confirm>
  login     -u <username> -p <password>              (saves tokens)
  logout
  whoami                                             (cached identity, no network)
  list      [-search text] [-date YYYY-MM-DD] [-page N]
  upload    <file> [file...]
  caption   -id <id> -text <caption>
  rm        -id <id>
`)
	os.Exit(2)
}

// stderrNotifier prints unsolicited notices (session expiry) to stderr.
type stderrNotifier struct{}

func (stderrNotifier) Success(msg string) { fmt.Fprintln(os.Stderr, msg) }
func (stderrNotifier) Error(msg string)   { fmt.Fprintln(os.Stderr, msg) }

// main wires the token store, session manager, gateway and gallery view model
// and dispatches subcommands.
func main() {
	cfgPath := flag.String("config", "", "config file (YAML)")
	verbose := flag.Bool("v", false, "verbose request logging")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	_ = godotenv.Load()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fail(err)
	}

	logger := zap.NewNop()
	if *verbose {
		logger, _ = zap.NewDevelopment()
	}
	defer func() { _ = logger.Sync() }()

	hc := &http.Client{Timeout: cfg.Timeout}
	store := tokenstore.NewFileStore(cfg.StateDir)
	sess := session.New(store, cfg.BaseURL,
		session.WithHTTPClient(hc),
		session.WithNotifier(stderrNotifier{}),
		session.WithLogger(logger),
	)
	gw := api.New(cfg.BaseURL, sess, api.WithHTTPClient(hc), api.WithLogger(logger))
	svc := gallery.NewService(gw, logger)

	ctx := context.Background()
	sess.Init(ctx)

	switch cmd {
	case "version":
		fmt.Printf("capgallery %s (%s)\n", version, buildDate)

	case "register":
		fs := flag.NewFlagSet("register", flag.ExitOnError)
		u := fs.String("u", "", "username")
		e := fs.String("e", "", "email")
		p := fs.String("p", "", "password")
		p2 := fs.String("p2", "", "password confirmation")
		_ = fs.Parse(args)

		if err := sess.Register(ctx, *u, *e, *p, *p2); err != nil {
			fail(err)
		}
		if _, ok := sess.Identity(); ok && sess.State() == session.StateAuthenticated {
			fmt.Println("registered and logged in")
		} else {
			fmt.Println("registered; log in next")
		}

	case "login":
		fs := flag.NewFlagSet("login", flag.ExitOnError)
		u := fs.String("u", "", "username")
		p := fs.String("p", "", "password")
		_ = fs.Parse(args)

		if err := sess.Login(ctx, *u, *p); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "logout":
		sess.Logout()
		fmt.Println("ok")

	case "whoami":
		id, ok := sess.Identity()
		if !ok {
			fmt.Println("not logged in")
			return
		}
		if id.Email != "" {
			fmt.Printf("%s <%s>\n", id.Username, id.Email)
		} else {
			fmt.Println(id.Username)
		}

	case "list":
		fs := flag.NewFlagSet("list", flag.ExitOnError)
		search := fs.String("search", "", "caption substring")
		date := fs.String("date", "", "UTC date YYYY-MM-DD")
		page := fs.Int("page", 1, "page number")
		_ = fs.Parse(args)

		if err := svc.Fetch(ctx); err != nil {
			fail(err)
		}
		svc.ApplyFilter(gallery.Filter{Search: *search, Date: *date, Page: *page})
		view := svc.View()

		for _, it := range view.Items {
			fmt.Printf("%6d  %-10s  %s  %s\n",
				it.ID, it.Status, it.UploadedAt.UTC().Format("2006-01-02 15:04"), it.Caption)
		}
		fmt.Printf("page %d/%d (%d image(s))\n", view.Number, view.TotalPages, view.Total)

	case "upload":
		if len(args) == 0 {
			fmt.Fprintln(os.Stderr, "need at least one file")
			os.Exit(1)
		}
		files := make([]gallery.UploadFile, 0, len(args))
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				fail(err)
			}
			files = append(files, gallery.UploadFile{
				Name: filepath.Base(path),
				MIME: mimeFor(path),
				Data: data,
			})
		}
		failed := 0
		for ev := range svc.UploadAll(ctx, files) {
			fmt.Printf("%s: %s (%s)\n", ev.Name, ev.State, ev.Message)
			if ev.State == gallery.UploadError {
				failed++
			}
		}
		if failed > 0 {
			os.Exit(1)
		}

	case "caption":
		fs := flag.NewFlagSet("caption", flag.ExitOnError)
		id := fs.Int64("id", 0, "image id")
		text := fs.String("text", "", "new caption")
		_ = fs.Parse(args)
		if *id == 0 {
			fmt.Fprintln(os.Stderr, "need -id")
			os.Exit(1)
		}

		if err := svc.Fetch(ctx); err != nil {
			fail(err)
		}
		if err := svc.EditCaption(ctx, *id, *text); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "rm":
		fs := flag.NewFlagSet("rm", flag.ExitOnError)
		id := fs.Int64("id", 0, "image id")
		_ = fs.Parse(args)
		if *id == 0 {
			fmt.Fprintln(os.Stderr, "need -id")
			os.Exit(1)
		}

		if err := svc.Delete(ctx, *id); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	default:
		usage()
	}
}

func mimeFor(path string) string {
	if m := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); m != "" {
		return m
	}
	return "application/octet-stream"
}

func fail(err error) {
	var apiErr *api.Error
	switch {
	case errors.As(err, &apiErr):
		fmt.Fprintln(os.Stderr, apiErr.Message)
	case errors.Is(err, errs.ErrValidation):
		fmt.Fprintln(os.Stderr, err)
	default:
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(1)
}
