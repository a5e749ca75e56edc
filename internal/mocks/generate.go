// Package mocks provides gomock implementations of the ports used by the auth service.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	repo := mocks.NewMockPrincipalRepository(ctrl)
//	repo.EXPECT().GetByIdentifier(gomock.Any(), "alice").Return(principal, nil)
package mocks

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=ports_mock.go github.com/target/streamauth/internal/ports LegacyAdminImporter,LoginLimiter,PasswordHasher,PrincipalRepository,SessionRepository,TokenSource
