// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package prompt

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// SYSTEM PROMPT TEMPLATE
// =============================================================================

// timePlaceholder is replaced with the server's local time at render.
const timePlaceholder = "${current_time_local}"

// defaultTemplate is used when no template file is configured or readable.
const defaultTemplate = `You are a helpful, knowledgeable assistant. Be clear and concise. Use plain language, and format answers with Markdown when it helps readability.

The current date and time is ${current_time_local}.

Conversations here are ephemeral: nothing the user shares is stored after the conversation ends. Do not claim to remember earlier sessions.`

// Template renders the system prompt. It re-reads its file when it changes
// on disk, so prompt edits land without a restart.
type Template struct {
	mu   sync.RWMutex
	path string
	text string

	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

// NewTemplate loads the template from path, or the built-in default when
// path is empty or unreadable. If the file exists its directory is watched
// for changes.
func NewTemplate(path string) *Template {
	t := &Template{
		path: path,
		text: defaultTemplate,
		done: make(chan struct{}),
	}

	if path == "" {
		return t
	}

	if data, err := os.ReadFile(path); err == nil {
		t.text = string(data)
	} else {
		log.Printf("PROMPT_TEMPLATE_FALLBACK | path=%s err=%v", path, err)
		return t
	}

	t.watch()
	return t
}

// Render substitutes the time placeholder and returns the system prompt.
func (t *Template) Render(now time.Time) string {
	t.mu.RLock()
	text := t.text
	t.mu.RUnlock()

	local := now.Format("Monday, January 2, 2006 at 3:04 PM MST")
	return strings.ReplaceAll(text, timePlaceholder, local)
}

// Close stops the file watcher, if any.
func (t *Template) Close() {
	t.once.Do(func() {
		close(t.done)
		if t.watcher != nil {
			t.watcher.Close()
		}
	})
}

// watch reloads the template when its file changes. Watching the directory
// rather than the file survives editors that replace-on-save.
func (t *Template) watch() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("PROMPT_TEMPLATE_WATCH_FAILED | err=%v", err)
		return
	}
	if err := watcher.Add(filepath.Dir(t.path)); err != nil {
		log.Printf("PROMPT_TEMPLATE_WATCH_FAILED | err=%v", err)
		watcher.Close()
		return
	}
	t.watcher = watcher

	go func() {
		for {
			select {
			case <-t.done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(t.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				t.reload()
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

// reload re-reads the template file, keeping the previous text on failure.
func (t *Template) reload() {
	data, err := os.ReadFile(t.path)
	if err != nil {
		log.Printf("PROMPT_TEMPLATE_RELOAD_FAILED | path=%s err=%v", t.path, err)
		return
	}

	t.mu.Lock()
	t.text = string(data)
	t.mu.Unlock()
	log.Printf("PROMPT_TEMPLATE_RELOADED | path=%s", t.path)
}
