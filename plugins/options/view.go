package options

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/YJPM/ti-options/internal/metrics"
)

// Element ids and classes the host stylesheet targets.
const (
	IndicatorID = "typing_indicator"
	LoadingID   = "ti-loading-container"
	OptionsID   = "ti-options-container"
	OptionClass = "ti-options-capsule"
)

// Host generation types with special indicator handling.
const (
	GenTypeQuiet       = "quiet"
	GenTypeImpersonate = "impersonate"
	GenTypeRefresh     = "refresh"
)

const typingSuffix = " 正在输入…"

// UI event types pushed to bridges.
const (
	UIIndicatorShow  = "indicator.show"
	UIIndicatorHide  = "indicator.hide"
	UIOptionsLoading = "options.loading"
	UIOptionsRender  = "options.render"
	UIOptionsFrame   = "options.frame"
	UIOptionsError   = "options.error"
	UIOptionsClear   = "options.clear"
	UIOptionsSelect  = "options.selection"
	UIComposerSet    = "composer.set"
	UIComposerSend   = "composer.send"
)

// UIEvent is one instruction for the bridge's renderer.
type UIEvent struct {
	Type     string   `json:"type"`
	Target   string   `json:"target,omitempty"` // element id
	Class    string   `json:"class,omitempty"`
	Cycle    string   `json:"cycle,omitempty"`
	Text     string   `json:"text,omitempty"`
	Options  []string `json:"options,omitempty"`
	Index    int      `json:"index"`
	Selected []int    `json:"selected,omitempty"`
	Animate  bool     `json:"animate,omitempty"`
	Retry    bool     `json:"retry,omitempty"`
}

// ErrNoSuchOption is returned for clicks on an index that is not rendered.
var ErrNoSuchOption = errors.New("no such option")

// ── typing indicator ──

// Indicator tracks the typing banner: hidden until a generation starts,
// hidden again when it stops, ends or the chat changes.
type Indicator struct {
	mu    sync.Mutex
	shown bool
	text  string
	push  func(UIEvent)
}

// NewIndicator creates a hidden indicator pushing events through push.
func NewIndicator(push func(UIEvent)) *Indicator {
	return &Indicator{push: push}
}

// IndicatorText is the banner text for the given settings and character.
func IndicatorText(s Settings, charName string) string {
	if s.ShowCharName && charName != "" {
		return charName + typingSuffix
	}
	return s.CustomText
}

// Show displays the banner unless the settings or generation type suppress
// it. It reports whether the banner is shown.
func (i *Indicator) Show(s Settings, genType string, dryRun bool, charName string) bool {
	if genType == GenTypeQuiet || genType == GenTypeImpersonate || dryRun {
		return false
	}
	if !s.Enabled {
		return false
	}
	if s.ShowCharName && charName == "" && genType != GenTypeRefresh {
		return false
	}

	text := IndicatorText(s, charName)
	i.mu.Lock()
	i.shown = true
	i.text = text
	i.mu.Unlock()

	metrics.IndicatorTransitions.WithLabelValues("shown").Inc()
	i.push(UIEvent{Type: UIIndicatorShow, Target: IndicatorID, Text: text})
	return true
}

// Hide removes the banner if it is shown.
func (i *Indicator) Hide() {
	i.mu.Lock()
	was := i.shown
	i.shown = false
	i.text = ""
	i.mu.Unlock()

	if was {
		metrics.IndicatorTransitions.WithLabelValues("hidden").Inc()
		i.push(UIEvent{Type: UIIndicatorHide, Target: IndicatorID})
	}
}

// State returns whether the banner is shown and its text.
func (i *Indicator) State() (bool, string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.shown, i.text
}

// ── options view ──

// View states.
const (
	ViewHidden  = "hidden"
	ViewLoading = "loading"
	ViewReady   = "ready"
	ViewError   = "error"
)

// ViewModel is the queryable copy of what the bridge shows.
type ViewModel struct {
	State    string   `json:"state"`
	Cycle    string   `json:"cycle,omitempty"`
	Options  []string `json:"options"`
	Revealed []string `json:"revealed"` // text currently visible per button
	Selected []int    `json:"selected"`
	Error    string   `json:"error,omitempty"`
	Animated bool     `json:"animating"`
}

// ClickResult is what a click did to the composer.
type ClickResult struct {
	Text     string `json:"text"`
	Sent     bool   `json:"sent"`
	Selected []int  `json:"selected,omitempty"`
}

// OptionsView renders suggestions as buttons with an optional typewriter
// reveal. The reveal runs as its own task once all suggestions are known
// and is cancelled by anything that replaces or clears the buttons.
type OptionsView struct {
	mu       sync.Mutex
	state    string
	cycle    string
	options  []string
	revealed []int // runes visible per option
	selected []int
	err      string

	delay   time.Duration
	push    func(UIEvent)
	cancel  context.CancelFunc
	animWG  sync.WaitGroup
	animGen int
}

// NewOptionsView creates a hidden view. delay is the per-rune reveal delay.
func NewOptionsView(delay time.Duration, push func(UIEvent)) *OptionsView {
	return &OptionsView{state: ViewHidden, delay: delay, push: push}
}

// stopLocked cancels a running reveal. Callers hold v.mu.
func (v *OptionsView) stopLocked() {
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
	v.animGen++
}

// Loading shows the loading placeholder for cycle.
func (v *OptionsView) Loading(cycle string) {
	v.mu.Lock()
	v.stopLocked()
	v.state = ViewLoading
	v.cycle = cycle
	v.options, v.revealed, v.selected, v.err = nil, nil, nil, ""
	v.mu.Unlock()

	v.push(UIEvent{Type: UIOptionsLoading, Target: LoadingID, Cycle: cycle})
}

// Render shows options for cycle. With animate the text is revealed rune by
// rune; otherwise it appears at once.
func (v *OptionsView) Render(cycle string, options []string, animate bool) {
	v.mu.Lock()
	v.stopLocked()
	v.state = ViewReady
	v.cycle = cycle
	v.options = append([]string(nil), options...)
	v.revealed = make([]int, len(options))
	v.selected = nil
	v.err = ""
	if !animate || v.delay <= 0 {
		for i, o := range options {
			v.revealed[i] = utf8.RuneCountInString(o)
		}
		animate = false
	}
	var ctx context.Context
	if animate {
		ctx, v.cancel = context.WithCancel(context.Background())
	}
	gen := v.animGen
	v.mu.Unlock()

	v.push(UIEvent{
		Type:    UIOptionsRender,
		Target:  OptionsID,
		Class:   OptionClass,
		Cycle:   cycle,
		Options: append([]string(nil), options...),
		Animate: animate,
	})
	if animate {
		v.animWG.Add(1)
		go v.typewriter(ctx, gen, cycle, options)
	}
}

func (v *OptionsView) typewriter(ctx context.Context, gen int, cycle string, options []string) {
	defer v.animWG.Done()
	ticker := time.NewTicker(v.delay)
	defer ticker.Stop()

	for i, opt := range options {
		runes := []rune(opt)
		for n := 1; n <= len(runes); n++ {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			v.mu.Lock()
			if v.animGen != gen {
				v.mu.Unlock()
				return
			}
			v.revealed[i] = n
			// Pushed under the lock so a finishing click always lands after it.
			v.push(UIEvent{Type: UIOptionsFrame, Target: OptionsID, Cycle: cycle, Index: i, Text: string(runes[:n])})
			v.mu.Unlock()
		}
	}

	v.mu.Lock()
	if v.animGen == gen && v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
	v.mu.Unlock()
}

// Wait blocks until a running reveal finishes or is cancelled.
func (v *OptionsView) Wait() {
	v.animWG.Wait()
}

// Fail shows msg with a retry affordance.
func (v *OptionsView) Fail(cycle, msg string) {
	v.mu.Lock()
	v.stopLocked()
	v.state = ViewError
	v.cycle = cycle
	v.options, v.revealed, v.selected = nil, nil, nil
	v.err = msg
	v.mu.Unlock()

	v.push(UIEvent{Type: UIOptionsError, Target: OptionsID, Cycle: cycle, Text: msg, Retry: true})
}

// Clear removes any buttons, placeholder or error.
func (v *OptionsView) Clear() {
	v.mu.Lock()
	wasVisible := v.state != ViewHidden
	v.stopLocked()
	v.state = ViewHidden
	v.cycle = ""
	v.options, v.revealed, v.selected, v.err = nil, nil, nil, ""
	v.mu.Unlock()

	if wasVisible {
		v.push(UIEvent{Type: UIOptionsClear, Target: OptionsID})
	}
}

// Click applies a click on option index according to sendMode.
func (v *OptionsView) Click(index int, sendMode string) (ClickResult, error) {
	v.mu.Lock()
	if v.state != ViewReady || index < 0 || index >= len(v.options) {
		v.mu.Unlock()
		return ClickResult{}, ErrNoSuchOption
	}
	// A click finishes the reveal.
	var frames []UIEvent
	for i, o := range v.options {
		if n := utf8.RuneCountInString(o); v.revealed[i] < n {
			v.revealed[i] = n
			frames = append(frames, UIEvent{Type: UIOptionsFrame, Target: OptionsID, Cycle: v.cycle, Index: i, Text: o})
		}
	}
	v.stopLocked()
	cycle := v.cycle
	opt := v.options[index]

	if sendMode == SendModeMulti {
		v.selected = toggle(v.selected, index)
		parts := make([]string, 0, len(v.selected))
		for _, i := range v.selected {
			parts = append(parts, v.options[i])
		}
		res := ClickResult{Text: strings.Join(parts, " "), Selected: append([]int{}, v.selected...)}
		v.mu.Unlock()

		v.pushAll(frames)
		v.push(UIEvent{Type: UIOptionsSelect, Target: OptionsID, Cycle: cycle, Selected: res.Selected})
		v.push(UIEvent{Type: UIComposerSet, Text: res.Text})
		return res, nil
	}
	v.mu.Unlock()

	v.pushAll(frames)
	v.push(UIEvent{Type: UIComposerSet, Text: opt})
	if sendMode == SendModeManual {
		return ClickResult{Text: opt}, nil
	}
	v.push(UIEvent{Type: UIComposerSend})
	v.Clear()
	return ClickResult{Text: opt, Sent: true}, nil
}

func (v *OptionsView) pushAll(evs []UIEvent) {
	for _, ev := range evs {
		v.push(ev)
	}
}

func toggle(sel []int, index int) []int {
	for i, v := range sel {
		if v == index {
			return append(sel[:i:i], sel[i+1:]...)
		}
	}
	return append(sel, index)
}

// Model returns a copy of the current view.
func (v *OptionsView) Model() ViewModel {
	v.mu.Lock()
	defer v.mu.Unlock()

	m := ViewModel{
		State:    v.state,
		Cycle:    v.cycle,
		Options:  append([]string{}, v.options...),
		Revealed: make([]string, len(v.options)),
		Selected: append([]int{}, v.selected...),
		Error:    v.err,
		Animated: v.cancel != nil,
	}
	for i, o := range v.options {
		m.Revealed[i] = string([]rune(o)[:v.revealed[i]])
	}
	return m
}
