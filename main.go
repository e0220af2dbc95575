package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"drive-order/journal"
	"drive-order/order"
	"drive-order/reorder"
	"drive-order/watch"
)

// ApplyLogEntry represents a single completed apply, logged to JSONL.
type ApplyLogEntry struct {
	Timestamp string `json:"timestamp"`
	Root      string `json:"root"`
	Moved     int64  `json:"moved"`
	Failures  int64  `json:"failures,omitempty"`
}

// logApply appends one apply summary to the apply log.
// NEVER overwrites the file, only appends.
func logApply(root string, moved, failures int64) {
	f, err := os.OpenFile(applyLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("Failed to open apply log: %v", err)
		return
	}
	defer f.Close()

	entry := ApplyLogEntry{
		Timestamp: time.Now().Format(time.RFC3339),
		Root:      root,
		Moved:     moved,
		Failures:  failures,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		log.Printf("Failed to marshal apply log entry: %v", err)
		return
	}

	if _, err := f.Write(append(data, '\n')); err != nil {
		log.Printf("Failed to write apply log entry: %v", err)
	}
}

// EntryItem is one directory child as presented to the GUI collaborator.
type EntryItem struct {
	Name  string `json:"name"`
	Path  string `json:"path"` // relative to the selected folder
	Moved bool   `json:"moved"`
}

var (
	rootPath      string
	writeMode     bool
	monitorPref   bool
	flushDelay    time.Duration
	applyLogPath  string
	journalDBPath string

	treeMutex sync.RWMutex
	orderTree *order.Tree

	session     = order.NewSession()
	jnl         *journal.Journal
	engine      *reorder.Engine
	coordinator *watch.Coordinator
	monitor     *watch.Monitor

	opsInProgress sync.WaitGroup // tracks in-flight applies for graceful shutdown

	// Version information - these will be set at build time
	version   = "0.1.0-alpha"
	buildDate = "unknown"
	gitCommit = "unknown"
)

func currentTree() *order.Tree {
	treeMutex.RLock()
	defer treeMutex.RUnlock()
	return orderTree
}

func setTree(t *order.Tree) {
	treeMutex.Lock()
	orderTree = t
	treeMutex.Unlock()
}

// resolveNode maps a request-relative path onto a node of the current tree.
func resolveNode(rel string) (*order.Tree, order.NodeID, error) {
	tree := currentTree()
	if tree == nil {
		return nil, order.None, errors.New("no folder selected")
	}
	full := filepath.Join(tree.Path(tree.Root()), filepath.FromSlash(rel))
	id, ok := tree.FindByPath(full)
	if !ok {
		return nil, order.None, fmt.Errorf("no such directory: %s", rel)
	}
	return tree, id, nil
}

// precondition is one named check run before an apply. The first failing
// check aborts the command with its specific reason.
type precondition struct {
	name  string
	check func() error
}

func applyPreconditions() []precondition {
	return []precondition{
		{"write-mode", func() error {
			if !writeMode {
				return errors.New("file operations are disabled, start with --write")
			}
			return nil
		}},
		{"folder-selected", func() error {
			if currentTree() == nil {
				return errors.New("no folder selected")
			}
			return nil
		}},
		{"volume-present", func() error {
			tree := currentTree()
			if _, err := os.Stat(tree.Path(tree.Root())); err != nil {
				return fmt.Errorf("selected folder is not reachable: %w", err)
			}
			return nil
		}},
		{"not-busy", func() error {
			if session.State() == order.Sorting {
				return order.ErrBusy
			}
			return nil
		}},
		{"pending-changes", func() error {
			if session.State() != order.Dirty {
				return order.ErrNoChanges
			}
			return nil
		}},
	}
}

// firstFailing runs the checks in order and returns the name and reason of
// the first failure, or "" and nil when all pass.
func firstFailing(checks []precondition) (string, error) {
	for _, p := range checks {
		if err := p.check(); err != nil {
			return p.name, err
		}
	}
	return "", nil
}

func handleStatus(c *fiber.Ctx) error {
	tree := currentTree()
	selected := ""
	if tree != nil {
		selected = tree.Path(tree.Root())
	}
	return c.JSON(fiber.Map{
		"version":        version,
		"selected":       selected,
		"state":          session.State().String(),
		"monitorEnabled": coordinator.Enabled(),
		"writeMode":      writeMode,
	})
}

func handleTree(c *fiber.Ctx) error {
	tree, id, err := resolveNode(c.Query("path"))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"status": "error", "error": err.Error()})
	}

	root := tree.Path(tree.Root())
	items := []EntryItem{}
	for _, childID := range tree.Children(id) {
		rel, err := filepath.Rel(root, tree.Path(childID))
		if err != nil {
			continue
		}
		items = append(items, EntryItem{
			Name:  tree.Name(childID),
			Path:  filepath.ToSlash(rel),
			Moved: tree.Moved(childID),
		})
	}

	return c.JSON(fiber.Map{"path": c.Query("path"), "items": items})
}

func handleOrder(c *fiber.Ctx) error {
	var req struct {
		Path  string   `json:"path"`
		Names []string `json:"names"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"status": "error", "error": "Invalid request body"})
	}

	tree, id, err := resolveNode(req.Path)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"status": "error", "error": err.Error()})
	}

	// Reject before touching the model: edits while sorting would race the
	// engine's traversal.
	if err := session.EditOccurred(); err != nil {
		return c.Status(409).JSON(fiber.Map{"status": "error", "error": err.Error()})
	}

	changed, err := tree.Reorder(id, req.Names)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"status": "error", "error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "ok", "changed": changed})
}

func handleMove(c *fiber.Ctx) error {
	var req struct {
		Path    string `json:"path"`
		Name    string `json:"name"`
		ToIndex int    `json:"toIndex"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"status": "error", "error": "Invalid request body"})
	}

	tree, id, err := resolveNode(req.Path)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"status": "error", "error": err.Error()})
	}
	if err := session.EditOccurred(); err != nil {
		return c.Status(409).JSON(fiber.Map{"status": "error", "error": err.Error()})
	}

	changed, err := tree.MoveChild(id, req.Name, req.ToIndex)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"status": "error", "error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "ok", "changed": changed})
}

func handleSort(c *fiber.Ctx) error {
	var req struct {
		Path string `json:"path"`
		Dir  string `json:"dir"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"status": "error", "error": "Invalid request body"})
	}

	tree, id, err := resolveNode(req.Path)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"status": "error", "error": err.Error()})
	}
	if err := session.EditOccurred(); err != nil {
		return c.Status(409).JSON(fiber.Map{"status": "error", "error": err.Error()})
	}

	changed, err := tree.SortChildren(id, req.Dir == "desc")
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"status": "error", "error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "ok", "changed": changed})
}

func handleApply(c *fiber.Ctx) error {
	if name, err := firstFailing(applyPreconditions()); err != nil {
		return c.Status(409).JSON(fiber.Map{"status": "blocked", "check": name, "reason": err.Error()})
	}
	if err := session.ApplyRequested(); err != nil {
		return c.Status(409).JSON(fiber.Map{"status": "error", "error": err.Error()})
	}

	tree := currentTree()
	coordinator.Suspend()

	opsInProgress.Add(1)
	go func() {
		defer opsInProgress.Done()
		engine.Apply(tree)
		logApply(tree.Path(tree.Root()), engine.Moves(), engine.Failures())
		session.ApplyCompleted()
		coordinator.Resume(flushDelay)
	}()

	return c.Status(202).JSON(fiber.Map{"status": "started"})
}

func handleProgress(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"percent": engine.Percent(),
		"state":   session.State().String(),
	})
}

func handleMonitorPref(c *fiber.Ctx) error {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"status": "error", "error": "Invalid request body"})
	}
	coordinator.SetPreference(req.Enabled)
	jnl.Infof("monitor preference set to %v", req.Enabled)
	return c.JSON(fiber.Map{"status": "ok", "enabled": coordinator.Enabled()})
}

func handleSelect(c *fiber.Ctx) error {
	var req struct {
		Path string `json:"path"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"status": "error", "error": "Invalid request body"})
	}
	if session.State() == order.Sorting {
		return c.Status(409).JSON(fiber.Map{"status": "error", "error": order.ErrBusy.Error()})
	}

	abs, err := filepath.Abs(req.Path)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"status": "error", "error": err.Error()})
	}

	tree, err := order.Scan(abs)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"status": "error", "error": err.Error()})
	}

	setTree(tree)
	session.Reset()
	if err := monitor.SetRoot(abs); err != nil {
		jnl.Warnf("failed to re-point change monitor at %s: %v", abs, err)
	}
	jnl.Infof("selected folder %s (%d directories)", abs, tree.Len()-1)

	return c.JSON(fiber.Map{"status": "ok", "selected": abs, "directories": tree.Len() - 1})
}

// handleEvents streams journal lines and apply progress to one client.
func handleEvents(c *websocket.Conn) {
	defer c.Close()

	log.Println("Events client connected")

	sub := jnl.Subscribe()
	defer jnl.Unsubscribe(sub)

	// Detect client disconnect; nothing meaningful is ever read.
	done := make(chan struct{})
	go func() {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				close(done)
				return
			}
		}
	}()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	lastPercent := -1

	for {
		select {
		case entry, ok := <-sub:
			if !ok {
				return
			}
			msg := fiber.Map{
				"type":    "log",
				"level":   entry.Level.String(),
				"time":    entry.Time.Format(time.RFC3339),
				"message": entry.Message,
			}
			if err := c.WriteJSON(msg); err != nil {
				log.Printf("Error sending log entry: %v", err)
				return
			}

		case <-ticker.C:
			percent := engine.Percent()
			if percent == lastPercent {
				continue
			}
			lastPercent = percent
			msg := fiber.Map{"type": "progress", "percent": percent}
			if err := c.WriteJSON(msg); err != nil {
				log.Printf("Error sending progress: %v", err)
				return
			}

		case <-done:
			return
		}
	}
}

func main() {
	var showVersion bool
	var port string
	flag.BoolVar(&showVersion, "version", false, "Show version information and exit")
	flag.StringVar(&rootPath, "path", ".", "Folder whose directory order is managed")
	flag.BoolVar(&writeMode, "write", false, "Enable write mode (allows physical reordering)")
	flag.BoolVar(&monitorPref, "monitor", true, "Watch the selected folder for external changes")
	flag.DurationVar(&flushDelay, "flush-delay", 1500*time.Millisecond, "Settle delay before the change monitor resumes after an apply")
	flag.StringVar(&applyLogPath, "apply-log", "applies.jsonl", "Apply summary log (JSONL, append-only)")
	flag.StringVar(&journalDBPath, "journal-db", "journal.db", "Journal database file (empty disables persistence)")
	flag.StringVar(&port, "port", "8080", "Port to listen on (default 8080)")
	flag.Parse()

	if showVersion {
		fmt.Printf("drive-order version %s\n", version)
		fmt.Printf("Build date: %s\n", buildDate)
		fmt.Printf("Git commit: %s\n", gitCommit)
		return
	}

	absPath, err := filepath.Abs(rootPath)
	if err != nil {
		log.Fatal("Invalid root path:", err)
	}
	rootPath = absPath

	jnl, err = journal.Open(journalDBPath)
	if err != nil {
		log.Fatalf("Failed to open journal: %v", err)
	}

	log.Printf("Managing directory order under: %s", rootPath)

	tree, err := order.Scan(rootPath)
	if err != nil {
		log.Fatalf("Failed to scan %s: %v", rootPath, err)
	}
	setTree(tree)
	jnl.Infof("scanned %s: %d directories", rootPath, tree.Len()-1)

	monitor, err = watch.NewMonitor(rootPath, jnl)
	if err != nil {
		log.Fatalf("Failed to start change monitor: %v", err)
	}
	coordinator = watch.NewCoordinator(monitor, jnl)
	coordinator.SetPreference(monitorPref)

	engine = reorder.New(reorder.OSFS{}, jnl)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Printf("Error: %v", err)
			return c.Status(500).SendString("Internal Server Error")
		},
	})

	app.Use(cors.New())

	app.Get("/", handleStatus)
	app.Get("/tree", handleTree)
	app.Post("/order", handleOrder)
	app.Post("/move", handleMove)
	app.Post("/sort", handleSort)
	app.Post("/apply", handleApply)
	app.Get("/progress", handleProgress)
	app.Post("/monitor", handleMonitorPref)
	app.Post("/select", handleSelect)

	// WebSocket upgrade middleware
	app.Use("/events", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/events", websocket.New(handleEvents))

	// Setup signal handler for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Server starting on :%s\n", port)
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	<-sigChan
	log.Println("\nReceived interrupt signal, waiting for in-progress applies...")

	opsInProgress.Wait()
	log.Println("All applies completed")

	if err := monitor.Close(); err != nil {
		log.Printf("Error closing change monitor: %v", err)
	}
	if err := jnl.Close(); err != nil {
		log.Printf("Error closing journal: %v", err)
	}

	log.Println("Shutting down...")
	os.Exit(0)
}
