package term

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/zeebo/xxh3"
)

// DefaultMaxLines caps how much terminal history a snapshot retains. Oldest
// lines are dropped first once the cap is reached.
const DefaultMaxLines = 10000

const viewportHeight = 24

// Line is one line of terminal content plus a 64-bit hash of it, used for
// cheap change detection between snapshots.
type Line struct {
	Content string
	Hash    uint64
}

// Snapshot is a line-oriented view of terminal content at one capture
// instant. Snapshots are replaced wholesale on each capture; they are never
// mutated after construction.
type Snapshot struct {
	Lines          []Line
	CursorRow      int
	CursorCol      int
	ViewportTop    int
	ViewportHeight int
}

// LineDelta describes the new content of a single changed line.
type LineDelta struct {
	LineNumber uint32 `json:"lineNumber"`
	Content    string `json:"content"`
	Hash       uint64 `json:"hash"`
}

// Delta is the minimal set of changes between two snapshots. It exists only
// as a message payload and is never stored.
type Delta struct {
	Changes     []LineDelta `json:"changes"`
	CursorRow   *int        `json:"cursorRow,omitempty"`
	CursorCol   *int        `json:"cursorCol,omitempty"`
	ViewportTop *int        `json:"viewportTop,omitempty"`
	ClearScreen bool        `json:"clearScreen"`
}

// HashLine returns the content hash used throughout the delta pipeline.
func HashLine(content string) uint64 {
	return xxh3.HashString(content)
}

// ParseOutput consumes raw terminal output, tracking cursor position and an
// ordered line list. It understands a minimal ANSI subset: cursor position
// (ESC[row;colH / f), clear screen (ESC[2J), clear to end of line (ESC[K).
// Any other CSI sequence is consumed without altering state, so raw control
// bytes never corrupt the text. maxLines <= 0 uses DefaultMaxLines.
func ParseOutput(data string, maxLines int) *Snapshot {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}

	var lines []Line
	var current []rune
	cursorRow, cursorCol := 0, 0

	runes := []rune(data)
	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		switch ch {
		case '\x1b':
			if i+1 < len(runes) && runes[i+1] == '[' {
				params, end, ok := scanCSI(runes, i+2)
				if !ok {
					i = len(runes)
					break
				}
				switch runes[end] {
				case 'H', 'f':
					parts := strings.Split(params, ";")
					if len(parts) >= 2 {
						row, _ := strconv.Atoi(parts[0])
						col, _ := strconv.Atoi(parts[1])
						cursorRow = max(row, 1) - 1
						cursorCol = max(col, 1) - 1
					}
				case 'J':
					if params == "2" {
						lines = lines[:0]
						current = current[:0]
						cursorRow, cursorCol = 0, 0
					}
				case 'K':
					if params == "" || params == "0" {
						if cursorCol < len(current) {
							current = current[:cursorCol]
						}
					}
				}
				i = end
			}
			// Bare ESC without '[': consume just the escape byte.
		case '\n':
			lines = append(lines, makeLine(current))
			current = current[:0]
			cursorRow++
			cursorCol = 0
		case '\r':
			cursorCol = 0
		default:
			if cursorCol >= len(current) {
				current = append(current, ch)
			} else {
				current[cursorCol] = ch
			}
			cursorCol++
		}
	}

	if len(current) > 0 || cursorRow >= len(lines) {
		lines = append(lines, makeLine(current))
	}

	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}

	return &Snapshot{
		Lines:          lines,
		CursorRow:      cursorRow,
		CursorCol:      cursorCol,
		ViewportTop:    max(cursorRow-viewportHeight, 0),
		ViewportHeight: viewportHeight,
	}
}

func makeLine(runes []rune) Line {
	content := string(runes)
	return Line{Content: content, Hash: HashLine(content)}
}

// scanCSI scans parameter runes starting at start until the terminating
// alphabetic command byte, returning the parameters and the command index.
func scanCSI(runes []rune, start int) (params string, end int, ok bool) {
	for i := start; i < len(runes); i++ {
		ch := runes[i]
		if (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') {
			return string(runes[start:i]), i, true
		}
	}
	return "", 0, false
}

// DeltaTracker remembers the last snapshot acknowledged per client and
// computes minimal line deltas against it. State is keyed by client id;
// RemoveClient must be called on disconnect to bound memory.
type DeltaTracker struct {
	mu        sync.RWMutex
	snapshots map[string]*Snapshot
}

// NewDeltaTracker creates an empty tracker.
func NewDeltaTracker() *DeltaTracker {
	return &DeltaTracker{snapshots: make(map[string]*Snapshot)}
}

// ComputeDelta diffs newSnap against the client's previous snapshot and
// stores newSnap in its place. A client with no prior snapshot gets a full
// dump with ClearScreen set. A snapshot shrinking below half the previous
// line count is treated as a screen clear rather than diffed line by line:
// index-based diffing across a wipe is meaningless. Returns nil when nothing
// changed; callers must not broadcast an empty update.
func (t *DeltaTracker) ComputeDelta(clientID string, newSnap *Snapshot) *Delta {
	t.mu.Lock()
	old := t.snapshots[clientID]
	t.snapshots[clientID] = newSnap
	t.mu.Unlock()

	delta := &Delta{}

	if old == nil {
		delta.ClearScreen = true
		for idx, line := range newSnap.Lines {
			delta.Changes = append(delta.Changes, LineDelta{
				LineNumber: uint32(idx),
				Content:    line.Content,
				Hash:       line.Hash,
			})
		}
		row, col, top := newSnap.CursorRow, newSnap.CursorCol, newSnap.ViewportTop
		delta.CursorRow = &row
		delta.CursorCol = &col
		delta.ViewportTop = &top
		return delta
	}

	if len(newSnap.Lines) < len(old.Lines)/2 {
		delta.ClearScreen = true
		for idx, line := range newSnap.Lines {
			delta.Changes = append(delta.Changes, LineDelta{
				LineNumber: uint32(idx),
				Content:    line.Content,
				Hash:       line.Hash,
			})
		}
	} else {
		for idx, line := range newSnap.Lines {
			changed := idx >= len(old.Lines) || old.Lines[idx].Hash != line.Hash
			if changed {
				delta.Changes = append(delta.Changes, LineDelta{
					LineNumber: uint32(idx),
					Content:    line.Content,
					Hash:       line.Hash,
				})
			}
		}
		// The terminal shrank: blank the now-removed trailing lines.
		for idx := len(newSnap.Lines); idx < len(old.Lines); idx++ {
			delta.Changes = append(delta.Changes, LineDelta{LineNumber: uint32(idx)})
		}
	}

	if old.CursorRow != newSnap.CursorRow {
		row := newSnap.CursorRow
		delta.CursorRow = &row
	}
	if old.CursorCol != newSnap.CursorCol {
		col := newSnap.CursorCol
		delta.CursorCol = &col
	}
	if old.ViewportTop != newSnap.ViewportTop {
		top := newSnap.ViewportTop
		delta.ViewportTop = &top
	}

	if len(delta.Changes) == 0 && delta.CursorRow == nil && delta.CursorCol == nil &&
		delta.ViewportTop == nil && !delta.ClearScreen {
		return nil
	}
	return delta
}

// RemoveClient drops the tracked snapshot for a client.
func (t *DeltaTracker) RemoveClient(clientID string) {
	t.mu.Lock()
	delete(t.snapshots, clientID)
	t.mu.Unlock()
}

// ClientCount returns how many clients have tracked snapshots.
func (t *DeltaTracker) ClientCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.snapshots)
}

// RenderANSI flattens a delta back into an escape-sequence stream a plain
// terminal can apply: cursor moves to each changed line, clears it, writes
// the new content, then restores the cursor position.
func (d *Delta) RenderANSI() string {
	var sb strings.Builder
	if d.ClearScreen {
		sb.WriteString("\x1b[2J\x1b[H")
	}
	for _, change := range d.Changes {
		fmt.Fprintf(&sb, "\x1b[%d;1H\x1b[2K%s", change.LineNumber+1, change.Content)
	}
	if d.CursorRow != nil && d.CursorCol != nil {
		fmt.Fprintf(&sb, "\x1b[%d;%dH", *d.CursorRow+1, *d.CursorCol+1)
	}
	return sb.String()
}
