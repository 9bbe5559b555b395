package reconcile

import (
	"sort"

	"github.com/propstrack/maintenance-server/internal/models"
	"github.com/propstrack/maintenance-server/pkg/objectkey"
)

// Source names the fields of one collection that may hold object references.
type Source struct {
	Collection string   `yaml:"collection"`
	Fields     []string `yaml:"fields"`
}

// DefaultSources lists the collections known to reference uploaded files.
func DefaultSources() []Source {
	return []Source{
		{Collection: models.ProfileCollection, Fields: []string{"photoURL", "avatarUrl"}},
		{Collection: models.ShowCollection, Fields: []string{"imageUrl", "logoImage", "coverImage"}},
		{Collection: models.PropCollection, Fields: []string{"primaryImageUrl", "images", "digitalAssets"}},
		{Collection: models.BoardCollection, Fields: []string{"backgroundImage"}},
		{Collection: "feedback", Fields: []string{"screenshotUrl", "attachments"}},
	}
}

// nestedKeys are looked up inside object values such as {"url": ...}.
var nestedKeys = []string{"url", "path", "storagePath"}

// extract appends every reference found in field of doc.
func extract(doc *models.Document, field, bucket string, out []models.ObjectReference) []models.ObjectReference {
	raw, ok := doc.Data.Lookup(field)
	if !ok {
		return out
	}
	add := func(s string) {
		key, ok := objectkey.Parse(s)
		if !ok || !key.InBucket(bucket) {
			return
		}
		out = append(out, models.ObjectReference{
			Collection: doc.Collection,
			DocumentID: doc.ID,
			Field:      field,
			Key:        key.Path,
		})
	}

	var walk func(v interface{})
	walk = func(v interface{}) {
		switch t := v.(type) {
		case string:
			add(t)
		case []interface{}:
			for _, item := range t {
				walk(item)
			}
		case []string:
			for _, item := range t {
				add(item)
			}
		case map[string]interface{}:
			for _, k := range nestedKeys {
				if s, ok := t[k].(string); ok {
					add(s)
				}
			}
		}
	}
	walk(raw)
	return out
}

func sortReferences(refs []models.ObjectReference) {
	sort.Slice(refs, func(i, j int) bool {
		a, b := refs[i], refs[j]
		if a.Collection != b.Collection {
			return a.Collection < b.Collection
		}
		if a.DocumentID != b.DocumentID {
			return a.DocumentID < b.DocumentID
		}
		if a.Field != b.Field {
			return a.Field < b.Field
		}
		return a.Key < b.Key
	})
}
