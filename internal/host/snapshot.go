package host

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Snapshot serves host values scraped from an HTML snapshot of the chat page.
//
// Recognised markup:
//   - composer: <textarea id="send_textarea">
//   - messages: elements with class "mes"; is_user="true" marks the user,
//     is_system="true" marks system messages; text comes from the descendant
//     with class "mes_text"; mesid and ch_name attributes carry id and speaker
//   - character card: #description_textarea, #personality_textarea, #scenario_pole
//   - world info: elements with class "world_entry" holding a
//     <textarea name="content">
type Snapshot struct {
	mu   sync.RWMutex
	root *html.Node
}

var _ Adapter = (*Snapshot)(nil)

// NewSnapshot creates an empty snapshot adapter.
func NewSnapshot() *Snapshot {
	return &Snapshot{}
}

// Update parses and stores a new page snapshot.
func (s *Snapshot) Update(page []byte) error {
	root, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return fmt.Errorf("parse snapshot: %w", err)
	}
	s.mu.Lock()
	s.root = root
	s.mu.Unlock()
	return nil
}

func (s *Snapshot) Kind() string { return KindSnapshot }

func (s *Snapshot) doc() (*html.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.root == nil {
		return nil, ErrUnavailable
	}
	return s.root, nil
}

func (s *Snapshot) UserInput(ctx context.Context) (string, error) {
	root, err := s.doc()
	if err != nil {
		return "", err
	}
	n := findFirst(root, func(n *html.Node) bool { return n.DataAtom == atom.Textarea && attr(n, "id") == "send_textarea" })
	if n == nil {
		return "", nil
	}
	return nodeText(n), nil
}

func (s *Snapshot) Character(ctx context.Context) (Character, error) {
	root, err := s.doc()
	if err != nil {
		return Character{}, err
	}
	c := Character{
		Description: textByID(root, "description_textarea"),
		Personality: textByID(root, "personality_textarea"),
		Scenario:    textByID(root, "scenario_pole"),
	}
	for _, m := range findAll(root, isMessageNode) {
		if attr(m, "is_user") != "true" && attr(m, "is_system") != "true" {
			if name := attr(m, "ch_name"); name != "" {
				c.Name = name
			}
		}
	}
	if c == (Character{}) {
		return c, ErrUnavailable
	}
	return c, nil
}

func (s *Snapshot) WorldInfo(ctx context.Context) ([]WorldEntry, error) {
	root, err := s.doc()
	if err != nil {
		return nil, err
	}
	var entries []WorldEntry
	for _, e := range findAll(root, func(n *html.Node) bool { return hasClass(n, "world_entry") }) {
		content := findFirst(e, func(n *html.Node) bool { return n.DataAtom == atom.Textarea && attr(n, "name") == "content" })
		if content == nil {
			continue
		}
		entries = append(entries, WorldEntry{
			Comment:  attr(e, "data-comment"),
			Content:  nodeText(content),
			Disabled: attr(e, "data-disabled") == "true",
		})
	}
	return entries, nil
}

func (s *Snapshot) Messages(ctx context.Context) ([]Message, error) {
	root, err := s.doc()
	if err != nil {
		return nil, err
	}
	var msgs []Message
	for _, m := range findAll(root, isMessageNode) {
		role := RoleAssistant
		switch {
		case attr(m, "is_system") == "true":
			role = RoleSystem
		case attr(m, "is_user") == "true":
			role = RoleUser
		}
		text := ""
		if body := findFirst(m, func(n *html.Node) bool { return hasClass(n, "mes_text") }); body != nil {
			text = nodeText(body)
		}
		msgs = append(msgs, Message{ID: attr(m, "mesid"), Role: role, Content: text})
	}
	return msgs, nil
}

func (s *Snapshot) LastMessageID(ctx context.Context) (string, error) {
	root, err := s.doc()
	if err != nil {
		return "", err
	}
	all := findAll(root, isMessageNode)
	if len(all) == 0 {
		return "", nil
	}
	return attr(all[len(all)-1], "mesid"), nil
}

// ── DOM helpers ──

func isMessageNode(n *html.Node) bool { return hasClass(n, "mes") }

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func findAll(root *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && match(n) {
			out = append(out, n)
			// messages and entries do not nest
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

func findFirst(root *html.Node, match func(*html.Node) bool) *html.Node {
	if root.Type == html.ElementNode && match(root) {
		return root
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if n := findFirst(c, match); n != nil {
			return n
		}
	}
	return nil
}

func textByID(root *html.Node, id string) string {
	n := findFirst(root, func(n *html.Node) bool { return attr(n, "id") == id })
	if n == nil {
		return ""
	}
	return nodeText(n)
}

// nodeText flattens n to plain text. Entities are decoded by the parser;
// <br> and block boundaries become newlines.
func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
			return
		case html.ElementNode:
			switch n.DataAtom {
			case atom.Br:
				sb.WriteByte('\n')
				return
			case atom.Script, atom.Style:
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && isBlock(n.DataAtom) {
			sb.WriteByte('\n')
		}
	}
	walk(n)
	return collapseBlankLines(sb.String())
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Li, atom.Blockquote, atom.Pre, atom.H1, atom.H2, atom.H3, atom.H4:
		return true
	}
	return false
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	blank := false
	for _, l := range lines {
		l = strings.TrimRight(l, " \t\r")
		if strings.TrimSpace(l) == "" {
			if blank || len(out) == 0 {
				continue
			}
			blank = true
			out = append(out, "")
			continue
		}
		blank = false
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
