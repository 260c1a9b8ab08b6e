package page

import (
	"context"
	"io"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Snapshot implements Surface over a parsed HTML document, so the whole
// pipeline runs offline against a saved page. Mutations edit the parsed
// tree; Render writes the augmented document back out.
type Snapshot struct {
	mu     sync.Mutex
	doc    *html.Node
	markup CardMarkup
}

// ParseSnapshot parses a saved page.
func ParseSnapshot(r io.Reader, markup CardMarkup) (*Snapshot, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	return &Snapshot{doc: doc, markup: markup}, nil
}

// Render writes the document, including injected artifacts.
func (s *Snapshot) Render(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return html.Render(w, s.doc)
}

// FindByAttr implements Surface.
func (s *Snapshot) FindByAttr(_ context.Context, attrs []string, value string) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, attr := range attrs {
		if n := s.find(func(n *html.Node) bool {
			v, ok := getAttr(n, attr)
			return ok && (v == value || strings.Contains(v, value))
		}); n != nil {
			return n, nil
		}
	}
	return nil, ErrNotFound
}

// FindResponseCard implements Surface: an element whose entire trimmed
// text equals the response id, then its nearest card ancestor.
func (s *Snapshot) FindResponseCard(_ context.Context, responseID string) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	marker := s.find(func(n *html.Node) bool {
		if isInjected(n) {
			return false
		}
		return strings.TrimSpace(ownText(n)) == responseID
	})
	if marker == nil {
		return nil, ErrNotFound
	}
	for p := marker.Parent; p != nil; p = p.Parent {
		if s.isCard(p) {
			return p, nil
		}
	}
	return nil, ErrNotFound
}

// CardBlocks implements Surface.
func (s *Snapshot) CardBlocks(_ context.Context, card Handle) ([]Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	root, ok := card.(*html.Node)
	if !ok || root == nil {
		return nil, ErrNotFound
	}

	var blocks []Block
	walk(root, func(n *html.Node) bool {
		if n == root || n.Type != html.ElementNode || isInjected(n) {
			return true
		}
		role := s.blockRole(n)
		if role == "" {
			return true
		}
		blocks = append(blocks, Block{
			Index:  len(blocks),
			Role:   role,
			Text:   visibleText(n),
			Handle: n,
		})
		return false // a block's descendants are not themselves blocks
	})
	return blocks, nil
}

// EnsureContainer implements Surface.
func (s *Snapshot) EnsureContainer(_ context.Context, anchor Handle, messageID string) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, ok := anchor.(*html.Node)
	if !ok || parent == nil {
		return nil, ErrNotFound
	}
	if existing := findUnder(parent, func(n *html.Node) bool {
		v, ok := getAttr(n, AttrContainer)
		return ok && v == messageID
	}); existing != nil {
		return existing, nil
	}

	container := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Div,
		Data:     "div",
		Attr:     []html.Attribute{{Key: AttrContainer, Val: messageID}},
	}
	parent.AppendChild(container)
	return container, nil
}

// HasArtifact implements Surface.
func (s *Snapshot) HasArtifact(_ context.Context, container Handle, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, ok := container.(*html.Node)
	if !ok || parent == nil {
		return false, ErrNotFound
	}
	return findUnder(parent, func(n *html.Node) bool {
		v, ok := getAttr(n, AttrArtifact)
		return ok && v == key
	}) != nil, nil
}

// AppendArtifact implements Surface.
func (s *Snapshot) AppendArtifact(_ context.Context, container Handle, fragment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, ok := container.(*html.Node)
	if !ok || parent == nil {
		return ErrNotFound
	}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Div,
		Data:     "div",
	})
	if err != nil {
		return err
	}
	for _, n := range nodes {
		parent.AppendChild(n)
	}
	return nil
}

// RemoveArtifact implements Surface.
func (s *Snapshot) RemoveArtifact(_ context.Context, container Handle, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, ok := container.(*html.Node)
	if !ok || parent == nil {
		return ErrNotFound
	}
	target := findUnder(parent, func(n *html.Node) bool {
		v, ok := getAttr(n, AttrArtifact)
		return ok && v == key
	})
	if target == nil {
		return ErrNotFound
	}
	target.Parent.RemoveChild(target)
	return nil
}

// GlobalGallery implements Surface.
func (s *Snapshot) GlobalGallery(_ context.Context) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing := s.find(func(n *html.Node) bool {
		_, ok := getAttr(n, AttrGallery)
		return ok
	}); existing != nil {
		return existing, nil
	}

	body := s.find(func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.DataAtom == atom.Body
	})
	if body == nil {
		return nil, ErrNotFound
	}
	gallery := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Div,
		Data:     "div",
		Attr:     []html.Attribute{{Key: AttrGallery, Val: "1"}},
	}
	if body.FirstChild != nil {
		body.InsertBefore(gallery, body.FirstChild)
	} else {
		body.AppendChild(gallery)
	}
	return gallery, nil
}

// VisibleText implements Surface.
func (s *Snapshot) VisibleText(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return visibleText(s.doc), nil
}

// StripArtifacts implements Surface.
func (s *Snapshot) StripArtifacts(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var injected []*html.Node
	walk(s.doc, func(n *html.Node) bool {
		if n.Type == html.ElementNode && isInjected(n) {
			injected = append(injected, n)
			return false
		}
		return true
	})
	for _, n := range injected {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}
	return nil
}

func (s *Snapshot) isCard(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, attr := range s.markup.CardAttrs {
		if _, ok := getAttr(n, attr); ok {
			return true
		}
	}
	classes, _ := getAttr(n, "class")
	for _, token := range strings.Fields(classes) {
		for _, card := range s.markup.CardClasses {
			if token == card {
				return true
			}
		}
	}
	return false
}

// blockRole returns the role label of a block element, or "" when the
// element is not a block.
func (s *Snapshot) blockRole(n *html.Node) string {
	for _, attr := range s.markup.BlockRoleAttrs {
		if v, ok := getAttr(n, attr); ok && v != "" {
			return strings.ToLower(v)
		}
	}
	classes, _ := getAttr(n, "class")
	for _, token := range strings.Fields(classes) {
		for _, prefix := range s.markup.RoleClassPrefixes {
			if role, found := strings.CutPrefix(token, prefix); found && role != "" {
				return strings.ToLower(role)
			}
		}
	}
	return ""
}

// find returns the first node in document order matching pred.
func (s *Snapshot) find(pred func(*html.Node) bool) *html.Node {
	return findUnder(s.doc, pred)
}

func findUnder(root *html.Node, pred func(*html.Node) bool) *html.Node {
	var found *html.Node
	walk(root, func(n *html.Node) bool {
		if found != nil {
			return false
		}
		if pred(n) {
			found = n
			return false
		}
		return true
	})
	return found
}

// walk visits nodes depth-first; fn returning false skips the children.
func walk(n *html.Node, fn func(*html.Node) bool) {
	if !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func getAttr(n *html.Node, name string) (string, bool) {
	if n.Type != html.ElementNode {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func isInjected(n *html.Node) bool {
	for _, a := range n.Attr {
		if strings.HasPrefix(a.Key, "data-inlay-") {
			return true
		}
	}
	return false
}

// ownText is the text directly inside an element, children included, which
// is what the marker comparison wants for small marker elements.
func ownText(n *html.Node) string {
	return visibleText(n)
}

// visibleText flattens a subtree's text, skipping scripts, styles and
// injected artifacts.
func visibleText(n *html.Node) string {
	var b strings.Builder
	var traverse func(*html.Node)
	traverse = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			b.WriteString(node.Data)
			return
		case html.ElementNode:
			if node.DataAtom == atom.Script || node.DataAtom == atom.Style {
				return
			}
			if isInjected(node) {
				return
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
