package main

import (
	"strings"
	"sync"
	"time"

	"github.com/antzucaro/matchr"
)

// adaptiveSimilarityThreshold gates clipboard changes: below this the
// change is treated as unrelated clipboard activity, not a correction.
const adaptiveSimilarityThreshold = 0.3

// clipboardReader is the slice of OutputService the learner needs.
type clipboardReader interface {
	ReadClipboard() (string, error)
}

// AdaptiveService learns vocabulary from user corrections. After an
// injection it polls the clipboard for a short window; if the user copies
// an edited version of the dictated text, the two are aligned word by word
// and replaced chunks become correction pairs in the dictionary.
type AdaptiveService struct {
	bus          *EventBus
	dict         *DictionaryService
	clipboard    clipboardReader
	watchWindow  time.Duration
	pollInterval time.Duration
	enabled      bool

	mu       sync.Mutex
	watching bool
}

// NewAdaptiveService builds the learner from config.
func NewAdaptiveService(bus *EventBus, dict *DictionaryService, clipboard clipboardReader, cfg AdaptiveConfig) *AdaptiveService {
	window := time.Duration(cfg.WatchWindow) * time.Second
	if window <= 0 {
		window = correctionWatchWindow
	}
	return &AdaptiveService{
		bus:          bus,
		dict:         dict,
		clipboard:    clipboard,
		watchWindow:  window,
		pollInterval: correctionPollInterval,
		enabled:      cfg.Enabled,
	}
}

// StartWatching begins a clipboard watch for corrections to injected text.
// Non-blocking; at most one watch runs at a time and an overlapping request
// is dropped.
func (a *AdaptiveService) StartWatching(injected string) {
	if !a.enabled || strings.TrimSpace(injected) == "" {
		return
	}

	a.mu.Lock()
	if a.watching {
		a.mu.Unlock()
		logger.Debugw("adaptive: already watching, skipping")
		return
	}
	a.watching = true
	a.mu.Unlock()

	go a.watchLoop(injected)
}

func (a *AdaptiveService) watchLoop(injected string) {
	defer func() {
		a.mu.Lock()
		a.watching = false
		a.mu.Unlock()
	}()

	logger.Debugw("adaptive: watching clipboard for corrections",
		"window", a.watchWindow)

	// Snapshot right after injection as the baseline.
	baseline, _ := a.clipboard.ReadClipboard()

	deadline := time.Now().Add(a.watchWindow)
	for time.Now().Before(deadline) {
		time.Sleep(a.pollInterval)

		text, err := a.clipboard.ReadClipboard()
		if err != nil {
			continue
		}
		if text == baseline || text == injected || strings.TrimSpace(text) == "" {
			continue
		}

		sim := textSimilarity(strings.ToLower(injected), strings.ToLower(text))
		if sim < adaptiveSimilarityThreshold {
			logger.Debugw("adaptive: clipboard change ignored", "similarity", sim)
			baseline = text
			continue
		}

		corrections := findWordCorrections(injected, text)
		if len(corrections) == 0 {
			baseline = text
			continue
		}

		for _, c := range corrections {
			if err := a.dict.AddCorrection(c[0], c[1]); err != nil {
				logger.Warnw("adaptive: record correction failed", "err", err)
				continue
			}
			logger.Infow("adaptive: learned correction", "heard", c[0], "corrected", c[1])
		}
		a.bus.Emit(evtLearned, map[string]interface{}{"count": len(corrections)})
		return
	}
}

// textSimilarity returns a normalized edit-distance similarity in [0,1].
func textSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 1
	}
	dist := matchr.Levenshtein(a, b)
	return 1 - float64(dist)/float64(longest)
}

// findWordCorrections aligns the two texts word by word and returns
// [heard, corrected] pairs for every replaced chunk. Insertions and
// deletions are not corrections.
func findWordCorrections(original, corrected string) [][2]string {
	orig := strings.Fields(original)
	corr := strings.Fields(corrected)

	// Longest-common-subsequence table over words.
	lcs := make([][]int, len(orig)+1)
	for i := range lcs {
		lcs[i] = make([]int, len(corr)+1)
	}
	for i := len(orig) - 1; i >= 0; i-- {
		for j := len(corr) - 1; j >= 0; j-- {
			if orig[i] == corr[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	matched := func(i, j int) bool {
		return i < len(orig) && j < len(corr) && orig[i] == corr[j]
	}

	var out [][2]string
	i, j := 0, 0
	for i < len(orig) || j < len(corr) {
		if matched(i, j) {
			i++
			j++
			continue
		}
		// Collect the maximal non-matching run on both sides, including
		// tails where one side is exhausted.
		si, sj := i, j
		for (i < len(orig) || j < len(corr)) && !matched(i, j) {
			if i < len(orig) && (j >= len(corr) || lcs[i+1][j] >= lcs[i][j+1]) {
				i++
			} else {
				j++
			}
		}
		heard := strings.Join(orig[si:i], " ")
		fixed := strings.Join(corr[sj:j], " ")
		if heard != "" && fixed != "" && heard != fixed {
			out = append(out, [2]string{heard, fixed})
		}
	}
	return out
}
