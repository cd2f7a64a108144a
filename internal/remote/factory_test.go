package remote

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/aws/smithy-go"

	"tripsync/internal/config"
	"tripsync/internal/tripsync"
)

func TestNewRemoteFromConfig(t *testing.T) {
	tests := []struct {
		name         string
		cfg          config.RemoteConfig
		wantErr      bool
		wantStore    bool
		wantNotifier bool
	}{
		{
			name:         "memory remote",
			cfg:          config.RemoteConfig{Type: "memory"},
			wantStore:    true,
			wantNotifier: true,
		},
		{
			name:         "filesystem remote",
			cfg:          config.RemoteConfig{Type: "filesystem", FSRoot: filepath.Join(t.TempDir(), "remote")},
			wantStore:    true,
			wantNotifier: true,
		},
		{
			name:    "filesystem remote without root",
			cfg:     config.RemoteConfig{Type: "filesystem"},
			wantErr: true,
		},
		{
			name:    "s3 remote without bucket",
			cfg:     config.RemoteConfig{Type: "s3"},
			wantErr: true,
		},
		{
			name: "no remote",
			cfg:  config.RemoteConfig{Type: "none"},
		},
		{
			name:    "unknown remote type",
			cfg:     config.RemoteConfig{Type: "ftp"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, notifier, err := NewRemoteFromConfig(context.Background(), tt.cfg)

			if (err != nil) != tt.wantErr {
				t.Fatalf("NewRemoteFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if (store != nil) != tt.wantStore {
				t.Errorf("store != nil = %v, want %v", store != nil, tt.wantStore)
			}
			if (notifier != nil) != tt.wantNotifier {
				t.Errorf("notifier != nil = %v, want %v", notifier != nil, tt.wantNotifier)
			}
			if store != nil {
				if err := store.ValidateSetup(context.Background()); err != nil {
					t.Errorf("ValidateSetup() error = %v", err)
				}
			}
		})
	}
}

func TestClassifyS3(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want tripsync.ErrorKind
	}{
		{"expired token", &smithy.GenericAPIError{Code: "ExpiredToken"}, tripsync.AuthExpired},
		{"throttled", &smithy.GenericAPIError{Code: "SlowDown"}, tripsync.RateLimited},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, tripsync.PermanentRejection},
		{"server error", &smithy.GenericAPIError{Code: "InternalError"}, tripsync.TransientNetwork},
		{"deadline", context.DeadlineExceeded, tripsync.TransientNetwork},
		{"plain error", errors.New("connection reset"), tripsync.TransientNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tripsync.ClassifyError(classifyS3("put", tt.err)); got != tt.want {
				t.Errorf("classifyS3() kind = %v, want %v", got, tt.want)
			}
		})
	}
}
