package asset

import (
	"context"

	"go-assettrack/internal/models"
)

type AssetService interface {
	ListAssets(ctx context.Context, filter map[string]any, limit, offset int64) ([]models.Asset, int64, error)
}

type AssetServiceImpl struct {
	AssetRepo AssetRepository
}

func NewAssetService(assetRepo AssetRepository) AssetService {
	return &AssetServiceImpl{AssetRepo: assetRepo}
}

func (s *AssetServiceImpl) ListAssets(ctx context.Context, filter map[string]any, limit, offset int64) ([]models.Asset, int64, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	assets, err := s.AssetRepo.List(ctx, filter, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	total, err := s.AssetRepo.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	return assets, total, nil
}
