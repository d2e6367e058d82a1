// Package mocks provides mock implementations for testing the catalogd services.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for
// the port interfaces in internal/core. To regenerate after interface changes,
// run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	defer ctrl.Finish()
//	repo := mocks.NewMockJobRepository(ctrl)
//	repo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(job, nil)
package mocks

//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=core_mocks.go github.com/marketfeed/catalogd/internal/core JobRepository,ReaperRepository,ListingRepository,SyncJobRepository,SeenListingCache,Discoverer,Hydrator,Embedder,Reviewer,VectorIndex
