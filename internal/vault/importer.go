package vault

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/objectservice"
	"github.com/starford/ansuz/internal/store"
)

// Property keys the importer writes on every imported object.
const (
	PropSourcePath = "sourcePath"
	PropChecksum   = "sourceChecksum"
)

// Result summarizes one Sync pass.
type Result struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Archived  int `json:"archived"`
	Links     int `json:"links"`
}

// Importer maps vault files onto objects. The file is the source of truth:
// re-importing replaces the title, content, properties, tags and wikilink
// references of its object.
type Importer struct {
	svc    *objectservice.Service
	dir    *Dir
	logger *slog.Logger
	mu     sync.Mutex
}

// NewImporter returns an Importer writing through svc.
func NewImporter(svc *objectservice.Service, dir *Dir, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{svc: svc, dir: dir, logger: logger}
}

// Sync walks the vault and brings the store up to date:
//   - new and changed files are imported
//   - objects whose file is gone are archived
//   - wikilinks of imported files are re-linked
func (im *Importer) Sync(ctx context.Context) (Result, error) {
	im.mu.Lock()
	defer im.mu.Unlock()

	var res Result
	files, err := im.dir.List()
	if err != nil {
		return res, err
	}
	idx, err := im.index(ctx)
	if err != nil {
		return res, err
	}

	disk := make(map[string]struct{}, len(files))
	docs := make(map[string]*Document)
	for _, f := range files {
		disk[f.Path] = struct{}{}
		existing := idx[f.Path]
		if existing != nil && !existing.Archived && existing.Properties[PropChecksum] == f.Checksum {
			res.Unchanged++
			continue
		}
		doc, obj, err := im.importFile(ctx, f.Path, existing)
		if err != nil {
			im.logger.Warn("vault: import failed", slog.String("path", f.Path), slog.String("error", err.Error()))
			continue
		}
		if existing == nil {
			res.Created++
		} else {
			res.Updated++
		}
		idx[f.Path] = obj
		docs[f.Path] = doc
	}

	for p, obj := range idx {
		if _, ok := disk[p]; ok || obj.Archived {
			continue
		}
		if _, err := im.svc.ArchiveObject(ctx, obj.ID, true); err != nil {
			im.logger.Warn("vault: archive failed", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		obj.Archived = true
		res.Archived++
		im.logger.Debug("vault: archived stale", slog.String("path", p))
	}

	// New files can resolve links that unchanged files already carried.
	if res.Created > 0 {
		for p := range disk {
			if _, ok := docs[p]; ok {
				continue
			}
			data, err := im.dir.Read(p)
			if err != nil {
				continue
			}
			docs[p] = Parse(p, data)
		}
	}

	r := newResolver(idx)
	for _, p := range sortedKeys(docs) {
		n, err := im.link(ctx, idx[p], docs[p], r)
		if err != nil {
			im.logger.Warn("vault: link failed", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		res.Links += n
	}

	im.logger.Info("vault: sync done",
		slog.Int("created", res.Created),
		slog.Int("updated", res.Updated),
		slog.Int("unchanged", res.Unchanged),
		slog.Int("archived", res.Archived),
		slog.Int("links", res.Links))
	return res, nil
}

// ImportFile imports a single vault file and re-links its wikilinks. It
// reports whether the store changed.
func (im *Importer) ImportFile(ctx context.Context, p string) (bool, error) {
	im.mu.Lock()
	defer im.mu.Unlock()

	data, err := im.dir.Read(p)
	if err != nil {
		return false, err
	}
	idx, err := im.index(ctx)
	if err != nil {
		return false, err
	}
	existing := idx[p]
	if existing != nil && !existing.Archived && existing.Properties[PropChecksum] == checksum(data) {
		return false, nil
	}
	doc, obj, err := im.importFile(ctx, p, existing)
	if err != nil {
		return false, err
	}
	idx[p] = obj
	if _, err := im.link(ctx, obj, doc, newResolver(idx)); err != nil {
		return true, err
	}
	return true, nil
}

// Remove archives the object imported from p. Unknown paths are ignored.
func (im *Importer) Remove(ctx context.Context, p string) (bool, error) {
	im.mu.Lock()
	defer im.mu.Unlock()

	idx, err := im.index(ctx)
	if err != nil {
		return false, err
	}
	obj := idx[p]
	if obj == nil || obj.Archived {
		return false, nil
	}
	if _, err := im.svc.ArchiveObject(ctx, obj.ID, true); err != nil {
		return false, err
	}
	return true, nil
}

func (im *Importer) importFile(ctx context.Context, p string, existing *models.Object) (*Document, *models.Object, error) {
	data, err := im.dir.Read(p)
	if err != nil {
		return nil, nil, err
	}
	doc := Parse(p, data)
	props := doc.Properties()
	props[PropSourcePath] = p
	props[PropChecksum] = checksum(data)

	var obj *models.Object
	if existing == nil {
		obj, err = im.svc.CreateObject(ctx, store.NewObject{
			Type:       doc.Type,
			Title:      doc.Title,
			Content:    doc.Body,
			Properties: props,
		})
	} else {
		if existing.Type != doc.Type {
			im.logger.Warn("vault: type change ignored",
				slog.String("path", p),
				slog.String("stored", string(existing.Type)),
				slog.String("file", string(doc.Type)))
		}
		obj, err = im.svc.UpdateObject(ctx, existing.ID, store.Patch{
			Title:      &doc.Title,
			Content:    &doc.Body,
			Properties: props,
		})
		if err == nil && obj.Archived {
			obj, err = im.svc.ArchiveObject(ctx, obj.ID, false)
		}
	}
	if err != nil {
		return nil, nil, err
	}
	if err := im.syncTags(ctx, obj.ID, doc.Tags); err != nil {
		return nil, nil, err
	}
	im.logger.Debug("vault: imported", slog.String("path", p), slog.String("id", obj.ID))
	return doc, obj, nil
}

// syncTags makes the tags of objectID equal to titles.
func (im *Importer) syncTags(ctx context.Context, objectID string, titles []string) error {
	current, err := im.svc.TagsOf(ctx, objectID)
	if err != nil {
		return err
	}
	have := make(map[string]struct{}, len(current))
	for _, t := range current {
		have[t.ID] = struct{}{}
	}
	want := make(map[string]struct{}, len(titles))
	for _, title := range titles {
		tag, err := im.svc.EnsureTag(ctx, title)
		if err != nil {
			return err
		}
		want[tag.ID] = struct{}{}
		if _, ok := have[tag.ID]; ok {
			continue
		}
		if _, err := im.svc.TagObject(ctx, objectID, tag.ID); err != nil && !errors.Is(err, apperr.ErrConflict) {
			return err
		}
	}
	for id := range have {
		if _, ok := want[id]; ok {
			continue
		}
		if err := im.svc.UntagObject(ctx, objectID, id); err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
	}
	return nil
}

// link replaces the references edges of obj with one edge per resolvable
// wikilink in doc.
func (im *Importer) link(ctx context.Context, obj *models.Object, doc *Document, r *resolver) (int, error) {
	if _, err := im.svc.DeleteRelations(ctx, store.Criteria{FromID: obj.ID, Type: models.RelReferences}); err != nil {
		return 0, err
	}
	n := 0
	for _, target := range doc.Links {
		to := r.resolve(target)
		if to == nil {
			im.logger.Debug("vault: unresolved link", slog.String("from", obj.ID), slog.String("target", target))
			continue
		}
		if to.ID == obj.ID {
			continue
		}
		if _, err := im.svc.CreateRelation(ctx, store.NewRelation{
			FromID:   obj.ID,
			ToID:     to.ID,
			Type:     models.RelReferences,
			Metadata: map[string]any{"wikilink": target},
		}); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// index maps source paths to their imported objects, archived ones included.
func (im *Importer) index(ctx context.Context) (map[string]*models.Object, error) {
	archived := true
	active, err := im.svc.Objects().All(ctx, store.ListFilter{})
	if err != nil {
		return nil, err
	}
	gone, err := im.svc.Objects().All(ctx, store.ListFilter{Archived: &archived})
	if err != nil {
		return nil, err
	}
	out := make(map[string]*models.Object)
	for _, list := range [][]models.Object{active, gone} {
		for i := range list {
			if p, ok := list[i].Properties[PropSourcePath].(string); ok && p != "" {
				out[p] = &list[i]
			}
		}
	}
	return out, nil
}

// resolver finds the object a wikilink target points at: by vault path, then
// by file stem, then by title (case-insensitive).
type resolver struct {
	byPath  map[string]*models.Object
	byStem  map[string]*models.Object
	byTitle map[string]*models.Object
}

func newResolver(idx map[string]*models.Object) *resolver {
	r := &resolver{
		byPath:  make(map[string]*models.Object, len(idx)),
		byStem:  make(map[string]*models.Object, len(idx)),
		byTitle: make(map[string]*models.Object, len(idx)),
	}
	// Sorted so ambiguous stems and titles resolve the same way every time.
	for _, p := range sortedKeys(idx) {
		obj := idx[p]
		if obj.Archived {
			continue
		}
		r.byPath[strings.ToLower(p)] = obj
		stem := strings.ToLower(strings.TrimSuffix(path.Base(p), ".md"))
		if _, ok := r.byStem[stem]; !ok {
			r.byStem[stem] = obj
		}
		title := strings.ToLower(obj.Title)
		if _, ok := r.byTitle[title]; !ok {
			r.byTitle[title] = obj
		}
	}
	return r
}

func (r *resolver) resolve(target string) *models.Object {
	t := strings.ToLower(strings.TrimPrefix(target, "/"))
	if !strings.HasSuffix(t, ".md") {
		if obj := r.byPath[t+".md"]; obj != nil {
			return obj
		}
	}
	if obj := r.byPath[t]; obj != nil {
		return obj
	}
	if obj := r.byStem[strings.TrimSuffix(path.Base(t), ".md")]; obj != nil {
		return obj
	}
	return r.byTitle[t]
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
