package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/domain"
	"storefront/internal/repository"
)

func setupPS(t *testing.T) (*ProductService, *memImages) {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	images := newMemImages()
	store := repository.NewMemoryStore()
	return NewProductService(store, repository.NewMemoryTx(store), images, logrus.NewEntry(logger)), images
}

func upload(name, body string) *ImageUpload {
	return &ImageUpload{Filename: name, Body: strings.NewReader(body)}
}

func TestProduct_Create(t *testing.T) {
	ctx := context.Background()
	ps, images := setupPS(t)
	owner := &domain.User{ID: "seller"}

	p, err := ps.Create(ctx, owner, ProductInput{Name: " Lamp ", Price: decimal.RequireFromString("12.50"), Stock: 3}, upload("lamp.png", "img"))
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "Lamp", p.Name)
	assert.Equal(t, "seller", p.OwnerID)
	assert.True(t, images.has(p.ImageURL))
	assert.True(t, p.InStock())

	got, err := ps.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("12.5")))
}

func TestProduct_Create_Invalid(t *testing.T) {
	ctx := context.Background()
	ps, _ := setupPS(t)
	owner := &domain.User{ID: "seller"}

	cases := []ProductInput{
		{Name: "", Price: decimal.NewFromInt(1), Stock: 1},
		{Name: "N", Price: decimal.NewFromInt(-1), Stock: 1},
		{Name: "N", Price: decimal.NewFromInt(1), Stock: -1},
	}
	for _, in := range cases {
		_, err := ps.Create(ctx, owner, in, upload("a.png", "x"))
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	}

	_, err := ps.Create(ctx, owner, ProductInput{Name: "N", Price: decimal.NewFromInt(1)}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = ps.Create(ctx, nil, ProductInput{Name: "N", Price: decimal.NewFromInt(1)}, upload("a.png", "x"))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestProduct_Update_Delete_OwnerOnly(t *testing.T) {
	ctx := context.Background()
	ps, images := setupPS(t)
	owner := &domain.User{ID: "seller"}
	other := &domain.User{ID: "mallory"}

	p, err := ps.Create(ctx, owner, ProductInput{Name: "A", Price: decimal.NewFromInt(10), Stock: 5}, upload("a.png", "v1"))
	require.NoError(t, err)
	oldImage := p.ImageURL

	_, err = ps.Update(ctx, other, p.ID, ProductInput{Name: "B", Price: decimal.NewFromInt(1)}, nil)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	upd, err := ps.Update(ctx, owner, p.ID, ProductInput{Name: "B", Price: decimal.NewFromInt(11), Stock: 7}, upload("b.png", "v2"))
	require.NoError(t, err)
	assert.Equal(t, "B", upd.Name)
	assert.Equal(t, int64(7), upd.Stock)
	assert.NotEqual(t, oldImage, upd.ImageURL)
	assert.False(t, images.has(oldImage))
	assert.True(t, images.has(upd.ImageURL))

	assert.ErrorIs(t, ps.Delete(ctx, other, p.ID), domain.ErrForbidden)
	require.NoError(t, ps.Delete(ctx, owner, p.ID))
	assert.False(t, images.has(upd.ImageURL))

	_, err = ps.GetByID(ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, ps.Delete(ctx, owner, p.ID), domain.ErrNotFound)
}

func TestProduct_List(t *testing.T) {
	ctx := context.Background()
	ps, _ := setupPS(t)
	owner := &domain.User{ID: "seller"}
	for _, name := range []string{"A", "B", "C"} {
		_, err := ps.Create(ctx, owner, ProductInput{Name: name, Price: decimal.NewFromInt(1), Stock: 1}, upload(name+".png", name))
		require.NoError(t, err)
	}
	all, err := ps.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

// racingRepo на первом чтении запускает параллельное списание остатка
type racingRepo struct {
	*repository.MemoryStore
	once sync.Once
	done chan error
}

func (r *racingRepo) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	p, err := r.MemoryStore.GetByID(ctx, id)
	r.once.Do(func() {
		go func() { r.done <- r.MemoryStore.DecrementStock(context.Background(), id, 1) }()
	})
	return p, err
}

func TestProduct_UpdateKeepsConcurrentDecrement(t *testing.T) {
	ctx := context.Background()
	logger, _ := logtest.NewNullLogger()
	store := repository.NewMemoryStore()
	owner := &domain.User{ID: "seller"}
	require.NoError(t, store.Create(ctx, &domain.Product{ID: "p1", Name: "A", Price: decimal.NewFromInt(10), Stock: 5, OwnerID: owner.ID}))

	repo := &racingRepo{MemoryStore: store, done: make(chan error, 1)}
	ps := NewProductService(repo, repository.NewMemoryTx(store), newMemImages(), logger)

	_, err := ps.Update(ctx, owner, "p1", ProductInput{Name: "A2", Price: decimal.NewFromInt(12), Stock: 5}, nil)
	require.NoError(t, err)
	require.NoError(t, <-repo.done)

	p, err := store.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "A2", p.Name)
	assert.Equal(t, int64(4), p.Stock)
}

func TestProduct_UpdateFailureDropsNewImage(t *testing.T) {
	ctx := context.Background()
	ps, images := setupPS(t)
	owner := &domain.User{ID: "seller"}

	_, err := ps.Update(ctx, owner, "missing", ProductInput{Name: "B", Price: decimal.NewFromInt(1)}, upload("b.png", "v2"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, images.saved)
}
