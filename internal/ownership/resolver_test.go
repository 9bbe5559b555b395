package ownership

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propstrack/maintenance-server/internal/models"
	"github.com/propstrack/maintenance-server/internal/storage"
)

func seed(t *testing.T, s *storage.MemoryStore, collection, id string, data models.Variables) *models.Document {
	t.Helper()
	doc := &models.Document{Collection: collection, ID: id, Data: data}
	require.NoError(t, s.PutDocument(context.Background(), doc))
	return doc
}

func TestOwnerOfPrecedence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		data  models.Variables
		want  string
		field string
	}{
		{"createdBy wins", models.Variables{"createdBy": "a", "ownerId": "b", "userId": "c"}, "a", "createdBy"},
		{"ownerId second", models.Variables{"createdBy": "", "ownerId": "b", "userId": "c"}, "b", "ownerId"},
		{"userId last", models.Variables{"userId": "c"}, "c", "userId"},
		{"non-string ignored", models.Variables{"createdBy": 42, "userId": "c"}, "c", "userId"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res, ok := OwnerOf(&models.Document{Data: tt.data})
			require.True(t, ok)
			assert.Equal(t, tt.want, res.TenantID)
			assert.Equal(t, tt.field, res.Field)
		})
	}

	_, ok := OwnerOf(&models.Document{Data: models.Variables{}})
	assert.False(t, ok)
}

func TestResolveThroughParent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := storage.NewMemoryStore()
	seed(t, s, models.ShowCollection, "show1", models.Variables{"ownerId": "tenant"})
	prop := seed(t, s, models.PropCollection, "p1", models.Variables{"showId": "show1", "createdBy": "collaborator"})

	res, err := NewResolver(s).Resolve(ctx, models.KindProp, prop)
	require.NoError(t, err)
	assert.Equal(t, "tenant", res.TenantID)
	assert.Equal(t, "show1", res.ParentID)
}

func TestResolveUnscoped(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := storage.NewMemoryStore()
	r := NewResolver(s)

	show := seed(t, s, models.ShowCollection, "show1", models.Variables{"userId": "tenant"})
	res, err := r.Resolve(ctx, models.KindShow, show)
	require.NoError(t, err)
	assert.Equal(t, "tenant", res.TenantID)

	legacy := seed(t, s, models.BoardCollection, "b1", models.Variables{"createdBy": "tenant"})
	res, err = r.Resolve(ctx, models.KindBoard, legacy)
	require.NoError(t, err)
	assert.Equal(t, "tenant", res.TenantID)
	assert.Empty(t, res.ParentID)
}

func TestResolveInvalid(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := storage.NewMemoryStore()
	r := NewResolver(s)
	seed(t, s, models.ShowCollection, "ownerless", models.Variables{"name": "x"})

	_, err := r.Resolve(ctx, models.KindProp, &models.Document{ID: "p", Data: models.Variables{"showId": "gone"}})
	assert.ErrorIs(t, err, ErrParentNotFound)
	assert.True(t, IsInvalid(err))

	_, err = r.Resolve(ctx, models.KindProp, &models.Document{ID: "p", Data: models.Variables{"showId": "ownerless"}})
	assert.ErrorIs(t, err, ErrUnresolved)

	_, err = r.Resolve(ctx, models.KindShow, &models.Document{ID: "s", Data: models.Variables{}})
	assert.ErrorIs(t, err, ErrUnresolved)
}

func TestResolveBackendErrorIsNotInvalid(t *testing.T) {
	t.Parallel()

	s := storage.NewMemoryStore()
	s.FailOn(storage.OpGet, models.ShowCollection, errors.New("unavailable"))

	_, err := NewResolver(s).Resolve(context.Background(), models.KindBoard,
		&models.Document{ID: "b", Data: models.Variables{"showId": "s1"}})
	require.Error(t, err)
	assert.False(t, IsInvalid(err))
}

func TestOwnedShowIDsUnionsOwnerFields(t *testing.T) {
	t.Parallel()

	s := storage.NewMemoryStore()
	seed(t, s, models.ShowCollection, "s1", models.Variables{"ownerId": "tenant"})
	seed(t, s, models.ShowCollection, "s2", models.Variables{"userId": "tenant"})
	seed(t, s, models.ShowCollection, "s3", models.Variables{"createdBy": "tenant", "ownerId": "tenant"})
	seed(t, s, models.ShowCollection, "s4", models.Variables{"ownerId": "someone-else"})

	ids, err := NewResolver(s).OwnedShowIDs(context.Background(), "tenant")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2", "s3"}, ids)
}
