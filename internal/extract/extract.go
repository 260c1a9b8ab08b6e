package extract

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"inlay/internal/config"
	"inlay/internal/conversation"
	"inlay/internal/logging"
)

// AmbientMessageID keys candidates from the ambient document scan, which
// has no owning message.
const AmbientMessageID = "ambient"

// Extractor turns messages into image candidates. Pure over its inputs:
// all state lives in the resolution cache it delegates to.
type Extractor struct {
	cfg   config.ExtractConfig
	files FileResolver
	log   *zap.Logger
}

// New creates an extractor. files may be nil when file-reference extraction
// is disabled.
func New(cfg config.ExtractConfig, files FileResolver) *Extractor {
	return &Extractor{
		cfg:   cfg,
		files: files,
		log:   logging.Get(logging.CategoryExtract),
	}
}

// FromMessages produces candidates for a conversation's messages, in
// message order and content-item order within each message. All returned
// candidates require an anchor (reconciled pass).
func (e *Extractor) FromMessages(msgs []*conversation.Message) []Candidate {
	var out []Candidate
	for i, msg := range msgs {
		out = append(out, e.fromMessage(msgs, i, msg)...)
	}
	return out
}

func (e *Extractor) fromMessage(all []*conversation.Message, idx int, msg *conversation.Message) []Candidate {
	var out []Candidate
	for _, item := range msg.Content {
		switch {
		case item.HTTPLocator() != "":
			// Literal rule, always active.
			out = append(out, Candidate{
				MessageID:      msg.ID,
				SourceType:     SourceURLEmbedded,
				SourceValue:    item.HTTPLocator(),
				RequiresAnchor: true,
				Resolve:        staticResolver(item.HTTPLocator()),
			})

		case item.FileID != "":
			if !e.cfg.FileImages || e.files == nil {
				continue
			}
			fileID, conv := item.FileID, msg.ConversationID
			out = append(out, Candidate{
				MessageID:      msg.ID,
				SourceType:     SourceFileReference,
				SourceValue:    fileID,
				RequiresAnchor: true,
				Resolve: func(ctx context.Context) (string, error) {
					return e.files.Resolve(ctx, fileID, conv)
				},
			})

		case item.IsText():
			out = append(out, e.fromText(all, idx, msg, item.Text)...)
		}
	}
	return out
}

func (e *Extractor) fromText(all []*conversation.Message, idx int, msg *conversation.Message, text string) []Candidate {
	var out []Candidate

	if e.cfg.MarkdownImages {
		for _, link := range MarkdownImages(text) {
			out = append(out, Candidate{
				MessageID:      msg.ID,
				SourceType:     SourceMarkdownLink,
				SourceValue:    link.URL,
				Caption:        link.Alt,
				RequiresAnchor: true,
				Resolve:        staticResolver(link.URL),
			})
		}
	}

	if e.cfg.PlaceholderImages && containsMarker(text, e.cfg.PlaceholderMarker) {
		out = append(out, e.placeholderCandidate(all, idx, msg))
	}
	return out
}

// placeholderCandidate runs the proximity heuristic: the marker carries no
// back-reference, so the nearest image-bearing message within the window is
// the only available signal. At each increasing distance the earlier
// message is checked before the later one.
func (e *Extractor) placeholderCandidate(all []*conversation.Message, idx int, msg *conversation.Message) Candidate {
	cand := Candidate{
		MessageID:      msg.ID,
		SourceType:     SourcePlaceholder,
		SourceValue:    e.cfg.PlaceholderMarker,
		RequiresAnchor: true,
	}

	linked, dist := e.nearestImage(all, idx)
	if linked == nil {
		e.log.Debug("no image near placeholder",
			zap.String("message", msg.ID),
			zap.Int("window", e.cfg.ProximityWindow))
		cand.FallbackNote = "no image found near this placeholder"
		cand.Resolve = emptyResolver()
		return cand
	}

	e.log.Debug("placeholder linked by proximity",
		zap.String("message", msg.ID),
		zap.String("linked", linked.ID),
		zap.Int("distance", dist))

	if url := linked.HTTPLocator(); url != "" {
		cand.Resolve = staticResolver(url)
		return cand
	}
	if e.files == nil {
		cand.FallbackNote = "no image found near this placeholder"
		cand.Resolve = emptyResolver()
		return cand
	}
	fileID, conv := linked.FileID, linked.ConversationID
	cand.Resolve = func(ctx context.Context) (string, error) {
		return e.files.Resolve(ctx, fileID, conv)
	}
	return cand
}

type linkedImage struct {
	conversation.ContentItem
	ID             string
	ConversationID string
}

// nearestImage searches messages around idx, nearest first, before then
// after at equal distance, for one carrying an image content item.
func (e *Extractor) nearestImage(all []*conversation.Message, idx int) (*linkedImage, int) {
	for dist := 1; dist <= e.cfg.ProximityWindow; dist++ {
		for _, j := range []int{idx - dist, idx + dist} {
			if j < 0 || j >= len(all) {
				continue
			}
			for _, item := range all[j].Content {
				if item.HTTPLocator() != "" || item.FileID != "" {
					return &linkedImage{
						ContentItem:    item,
						ID:             all[j].ID,
						ConversationID: all[j].ConversationID,
					}, dist
				}
			}
		}
	}
	return nil, 0
}

// FromAmbientText scans visible document text for markdown image links.
// These candidates do not require an anchor: they fall back to the global
// gallery. Stateless glue around the same markdown scan.
func (e *Extractor) FromAmbientText(text string) []Candidate {
	if !e.cfg.MarkdownImages {
		return nil
	}
	var out []Candidate
	for _, link := range MarkdownImages(text) {
		out = append(out, Candidate{
			MessageID:      AmbientMessageID,
			SourceType:     SourceMarkdownLink,
			SourceValue:    link.URL,
			Caption:        link.Alt,
			RequiresAnchor: false,
			Resolve:        staticResolver(link.URL),
		})
	}
	return out
}

func containsMarker(text, marker string) bool {
	if marker == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(marker))
}
