package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/antibyte/emojivm/pkg/configuration"
	"github.com/antibyte/emojivm/pkg/lesson"
	"github.com/antibyte/emojivm/pkg/logger"
	"github.com/antibyte/emojivm/pkg/shared"
	"github.com/antibyte/emojivm/pkg/store"
	"github.com/antibyte/emojivm/pkg/terminal"
	tlsmanager "github.com/antibyte/emojivm/pkg/tls"
	"github.com/antibyte/emojivm/pkg/vm"
)

func main() {
	configPath := flag.String("config", "emojivm.cfg", "configuration file")
	selfSigned := flag.Bool("self-signed", false, "write a development certificate to [TLS] cert_file/key_file and exit")
	flag.Parse()

	// Konfiguration vor allen anderen Initialisierungen
	if err := configuration.Initialize(*configPath); err != nil {
		fmt.Printf("Error initializing configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(); err != nil {
		fmt.Printf("Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()
	logger.ConfigInfo("Server started - configuration loaded from: %s", *configPath)

	if *selfSigned {
		if err := writeSelfSignedCert(); err != nil {
			logger.Fatal(logger.AreaSecurity, "Self-signed certificate failed: %v", err)
		}
		return
	}

	tlsManager, err := tlsmanager.NewManager()
	if err != nil {
		logger.Fatal(logger.AreaSecurity, "TLS manager initialization failed: %v", err)
	}

	st, err := store.OpenFromConfig()
	if err != nil {
		logger.Fatal(logger.AreaStore, "Store initialization failed: %v", err)
	}
	defer st.Close()
	logger.Info(logger.AreaStore, "Store opened: %s", configuration.GetString("Store", "db_path", "emojivm.db"))

	issuer := lesson.IssuerFromConfig()
	api := lesson.NewAPI(loadLessons(), lesson.NewGrader(vm.LimitsFromConfig(), issuer), issuer)

	// Jede WebSocket-Session bekommt eine eigene Maschine und einen eigenen Debugger
	handler := terminal.NewHandler(st)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", handler.HandleWebSocket)
	api.Register(mux)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","clients":%d}`, handler.Clients())
	})
	mux.Handle("/", staticHandler(configuration.GetString("Server", "static_dir", "web")))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go pruneRuns(ctx, st)

	if tlsManager.IsEnabled() {
		err = startTLSServers(ctx, tlsManager, mux)
	} else {
		err = startHTTPServer(ctx, configuration.GetString("Server", "listen", ":8080"), mux)
	}
	if err != nil {
		logger.Error(logger.AreaGeneral, "Server stopped: %v", err)
		logger.Close()
		os.Exit(1)
	}
	logger.Info(logger.AreaGeneral, "Server shut down")
}

// loadLessons reads [Lessons] lesson_dir. Without the directory the server
// starts with no lessons.
func loadLessons() []*shared.LessonRecord {
	dir := configuration.GetString("Lessons", "lesson_dir", "lessons")
	loader, err := lesson.NewLoader()
	if err != nil {
		logger.Fatal(logger.AreaLesson, "Lesson schema failed to compile: %v", err)
	}
	lessons, err := loader.LoadDir(dir)
	if err != nil {
		logger.Warn(logger.AreaLesson, "No lessons loaded from %s: %v", dir, err)
		return nil
	}
	logger.Info(logger.AreaLesson, "%d lessons loaded from %s", len(lessons), dir)
	return lessons
}

func writeSelfSignedCert() error {
	cfg := tlsmanager.ConfigFromSettings()
	cfg.EnableTLS = false
	m, err := tlsmanager.NewManagerWithConfig(cfg)
	if err != nil {
		return err
	}
	hosts := []string{"localhost", "127.0.0.1"}
	if domain := m.Domain(); domain != "" {
		hosts = append(hosts, domain)
	}
	return m.GenerateSelfSignedCert(hosts, 365*24*time.Hour)
}

// pruneRuns deletes stored runs older than [Store] run_retention once a day.
// A zero retention keeps everything.
func pruneRuns(ctx context.Context, st *store.Store) {
	retention := configuration.GetDuration("Store", "run_retention", 0)
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		n, err := st.PruneRuns(time.Now().Add(-retention))
		if err != nil {
			logger.Warn(logger.AreaStore, "Pruning runs failed: %v", err)
		} else if n > 0 {
			logger.Info(logger.AreaStore, "Pruned %d runs older than %s", n, retention)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// staticHandler serves the visualizer front end from dir, if present.
func staticHandler(dir string) http.Handler {
	files := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := os.Stat(dir); err != nil {
			logger.Debug(logger.AreaGeneral, "ROOT ROUTE: 404 for path: %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}

// serve runs srv until ctx ends, then shuts it down.
func serve(ctx context.Context, srv *http.Server, listen func() error) error {
	errc := make(chan error, 1)
	go func() { errc <- listen() }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// startHTTPServer starts the plain HTTP server
func startHTTPServer(ctx context.Context, addr string, handler http.Handler) error {
	logger.Info(logger.AreaGeneral, "Starting HTTP server on %s", addr)
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	return serve(ctx, srv, srv.ListenAndServe)
}

// startTLSServers starts HTTPS and, for Let's Encrypt challenges or
// redirects, a plain HTTP server next to it.
func startTLSServers(ctx context.Context, tm *tlsmanager.Manager, handler http.Handler) error {
	httpPort, httpsPort := tm.HTTPPort(), tm.HTTPSPort()
	logger.Info(logger.AreaSecurity, "Starting TLS-enabled servers - HTTP: %s, HTTPS: %s", httpPort, httpsPort)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errorChan := make(chan error, 2)

	if tm.NeedsHTTPServer() {
		plain := tm.RedirectHandler()
		if plain == nil {
			plain = http.NotFoundHandler()
		}
		httpSrv := &http.Server{
			Addr:              ":" + httpPort,
			Handler:           tm.ChallengeHandler(plain),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info(logger.AreaSecurity, "Starting HTTP server for challenges/redirects on port %s", httpPort)
			if err := serve(ctx, httpSrv, httpSrv.ListenAndServe); err != nil {
				errorChan <- fmt.Errorf("http server: %w", err)
				return
			}
			errorChan <- nil
		}()
	}

	httpsSrv := &http.Server{
		Addr:              ":" + httpsPort,
		Handler:           handler,
		TLSConfig:         tm.TLSConfig(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info(logger.AreaSecurity, "Starting HTTPS server on port %s (domain %q)", httpsPort, tm.Domain())
		// Zertifikate kommen aus TLSConfig
		err := serve(ctx, httpsSrv, func() error { return httpsSrv.ListenAndServeTLS("", "") })
		if err != nil {
			errorChan <- fmt.Errorf("https server: %w", err)
			return
		}
		errorChan <- nil
	}()

	go checkHTTPS(ctx, tm)

	// der erste Fehler beendet beide Server
	err := <-errorChan
	cancel()
	if tm.NeedsHTTPServer() {
		if err2 := <-errorChan; err == nil {
			err = err2
		}
	}
	return err
}

// checkHTTPS probes the local HTTPS listener once after startup.
func checkHTTPS(ctx context.Context, tm *tlsmanager.Manager) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(5 * time.Second):
	}

	testURL := fmt.Sprintf("https://localhost:%s/healthz", tm.HTTPSPort())
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true, ServerName: tm.Domain()},
		},
	}
	resp, err := client.Get(testURL)
	if err != nil {
		logger.Warn(logger.AreaSecurity, "HTTPS connectivity test failed: %v", err)
		return
	}
	resp.Body.Close()
	logger.Info(logger.AreaSecurity, "HTTPS connectivity test successful (status: %s)", resp.Status)
}
