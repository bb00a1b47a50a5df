package ui

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/getlantern/systray"

	"github.com/framewise/framewise/internal/catalog"
	"github.com/framewise/framewise/internal/session"
)

const refreshInterval = 5 * time.Second

type Tray struct {
	library catalog.LibraryService
	session *session.Session
	runner  *catalog.Runner
	logger  *slog.Logger

	statusItem  *systray.MenuItem
	libraryItem *systray.MenuItem
	reviewItem  *systray.MenuItem
	saveItem    *systray.MenuItem
	pauseItem   *systray.MenuItem

	mu   sync.Mutex
	done chan struct{}

	onQuit func()
}

type TrayConfig struct {
	Library catalog.LibraryService
	Session *session.Session
	Runner  *catalog.Runner
	Logger  *slog.Logger
	OnQuit  func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		library: cfg.Library,
		session: cfg.Session,
		runner:  cfg.Runner,
		logger:  cfg.Logger,
		onQuit:  cfg.OnQuit,
		done:    make(chan struct{}),
	}
}

// Run blocks until the tray exits.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("Framewise")
	systray.SetTooltip("Framewise review agent")

	t.statusItem = systray.AddMenuItem("Status: Idle", "Current agent status")
	t.statusItem.Disable()

	t.libraryItem = systray.AddMenuItem("Library: 0 videos", "Videos in the library")
	t.libraryItem.Disable()

	t.reviewItem = systray.AddMenuItem("No video open", "Current review")
	t.reviewItem.Disable()

	systray.AddSeparator()

	t.saveItem = systray.AddMenuItem("Save Review", "Save the review to its file")
	t.saveItem.Disable()

	t.pauseItem = systray.AddMenuItem("Pause Thumbnails", "Pause background jobs")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Framewise")

	go func() {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		t.refresh()
		for {
			select {
			case <-ticker.C:
				t.refresh()
			case <-t.saveItem.ClickedCh:
				t.saveReview()
			case <-t.pauseItem.ClickedCh:
				t.togglePause()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			case <-t.done:
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

func (t *Tray) togglePause() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.runner == nil {
		return
	}

	if t.runner.IsPaused() {
		t.runner.Resume()
		t.pauseItem.SetTitle("Pause Thumbnails")
		t.statusItem.SetTitle("Status: Idle")
	} else {
		t.runner.Pause()
		t.pauseItem.SetTitle("Resume Thumbnails")
		t.statusItem.SetTitle("Status: Paused")
	}
}

func (t *Tray) saveReview() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	path, err := t.session.SaveReview(ctx, "")
	if err != nil {
		t.logger.Error("failed to save review from tray", "error", err)
		t.setStatus("Save failed")
		return
	}
	t.setStatus("Saved " + filepath.Base(path))
}

func (t *Tray) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	count, err := t.library.CountVideos(ctx)
	if err != nil {
		t.logger.Warn("tray refresh failed", "error", err)
		return
	}
	size, _ := t.library.TotalSize(ctx)

	st := t.session.State()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.libraryItem.SetTitle(libraryTitle(count, size))
	t.reviewItem.SetTitle(reviewTitle(st))
	if st.ReviewPath != "" {
		t.saveItem.Enable()
	} else {
		t.saveItem.Disable()
	}
	if t.runner != nil && !t.runner.IsPaused() {
		if active := t.runner.GetActiveJobCount(ctx); active > 0 {
			t.statusItem.SetTitle(fmt.Sprintf("Status: %d jobs queued", active))
		} else {
			t.statusItem.SetTitle("Status: Idle")
		}
	}
}

func (t *Tray) setStatus(status string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statusItem.SetTitle("Status: " + status)
}

func libraryTitle(count int, size int64) string {
	noun := "videos"
	if count == 1 {
		noun = "video"
	}
	if size <= 0 {
		return fmt.Sprintf("Library: %d %s", count, noun)
	}
	return fmt.Sprintf("Library: %d %s (%s)", count, noun, humanize.Bytes(uint64(size)))
}

func reviewTitle(st session.State) string {
	if st.Video == nil {
		return "No video open"
	}
	name := filepath.Base(st.Video.Path)
	if st.ReviewPath != "" {
		name = filepath.Base(st.ReviewPath)
	}
	return fmt.Sprintf("%s: %s annotated", name, humanize.Comma(int64(st.AnnotatedFrames)))
}

func (t *Tray) Quit() {
	select {
	case <-t.done:
	default:
		close(t.done)
	}
	systray.Quit()
}
