package service

import (
	"context"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"storefront/internal/domain"
	"storefront/internal/repository"
)

// ProductService инкапсулирует бизнес-логику вокруг товаров
type ProductService struct {
	repo   repository.ProductRepository
	tx     repository.TxManager
	images ImageStore
	log    logrus.FieldLogger
}

func NewProductService(repo repository.ProductRepository, tx repository.TxManager, images ImageStore, log logrus.FieldLogger) *ProductService {
	return &ProductService{repo: repo, tx: tx, images: images, log: log}
}

// ProductInput изменяемые поля товара
type ProductInput struct {
	Name        string
	Description string
	Price       decimal.Decimal
	Stock       int64
}

// ImageUpload загруженный файл изображения
type ImageUpload struct {
	Filename string
	Body     io.Reader
}

func (in ProductInput) validate() error {
	if strings.TrimSpace(in.Name) == "" || in.Price.IsNegative() || in.Stock < 0 {
		return domain.ErrInvalidInput
	}
	return nil
}

// Create изображение обязательно, владельцем становится автор
func (s *ProductService) Create(ctx context.Context, owner *domain.User, in ProductInput, img *ImageUpload) (*domain.Product, error) {
	if owner == nil {
		return nil, domain.ErrUnauthorized
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	if img == nil {
		return nil, errors.Wrap(domain.ErrInvalidInput, "image is required")
	}
	url, err := s.images.Save(ctx, img.Filename, img.Body)
	if err != nil {
		return nil, err
	}
	p := domain.Product{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		Price:       in.Price,
		Stock:       in.Stock,
		ImageURL:    url,
		OwnerID:     owner.ID,
	}
	if err := s.repo.Create(ctx, &p); err != nil {
		s.dropImage(ctx, url)
		return nil, err
	}
	return &p, nil
}

func (s *ProductService) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	if id == "" {
		return nil, domain.ErrInvalidInput
	}
	return s.repo.GetByID(ctx, id)
}

// Update менять товар может только владелец; старое изображение удаляется при замене.
// Чтение и запись в одной транзакции, чтобы не затереть параллельное списание остатка.
func (s *ProductService) Update(ctx context.Context, actor *domain.User, id string, in ProductInput, img *ImageUpload) (*domain.Product, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	var (
		updated  *domain.Product
		newImage string
		oldImage string
	)
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		p, err := s.owned(ctx, actor, id)
		if err != nil {
			return err
		}
		if img != nil {
			url, err := s.images.Save(ctx, img.Filename, img.Body)
			if err != nil {
				return err
			}
			newImage = url
			oldImage, p.ImageURL = p.ImageURL, url
		}
		p.Name = strings.TrimSpace(in.Name)
		p.Description = strings.TrimSpace(in.Description)
		p.Price = in.Price
		p.Stock = in.Stock
		if err := s.repo.Update(ctx, p); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		s.dropImage(ctx, newImage)
		return nil, err
	}
	s.dropImage(ctx, oldImage)
	return updated, nil
}

func (s *ProductService) Delete(ctx context.Context, actor *domain.User, id string) error {
	p, err := s.owned(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.dropImage(ctx, p.ImageURL)
	return nil
}

func (s *ProductService) List(ctx context.Context) ([]domain.Product, error) {
	return s.repo.List(ctx)
}

func (s *ProductService) owned(ctx context.Context, actor *domain.User, id string) (*domain.Product, error) {
	if actor == nil {
		return nil, domain.ErrUnauthorized
	}
	if id == "" {
		return nil, domain.ErrInvalidInput
	}
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.OwnerID != actor.ID {
		return nil, domain.ErrForbidden
	}
	return p, nil
}

func (s *ProductService) dropImage(ctx context.Context, url string) {
	if url == "" {
		return
	}
	if err := s.images.Delete(ctx, url); err != nil {
		s.log.WithError(err).WithField("image", url).Warn("failed to delete product image")
	}
}
