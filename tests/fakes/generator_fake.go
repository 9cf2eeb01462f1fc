package fakes

import (
	"context"
	"fmt"
	"sync"

	"github.com/systmms/dbrotate/pkg/rotation"
)

// FakeGenerator returns predictable passwords: Passw0rd!1, Passw0rd!2, ...
type FakeGenerator struct {
	mu sync.Mutex

	// Err is returned instead of a password when set
	Err error

	Calls []rotation.PasswordPolicy
}

// GeneratePassword returns the next password in sequence
func (g *FakeGenerator) GeneratePassword(_ context.Context, policy rotation.PasswordPolicy) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.Calls = append(g.Calls, policy)
	if g.Err != nil {
		return "", g.Err
	}
	return fmt.Sprintf("Passw0rd!%d", len(g.Calls)), nil
}

// FakeClusterPasswordChanger records cluster password changes
type FakeClusterPasswordChanger struct {
	mu sync.Mutex

	Err error
	// Server, when set, receives the new password for User
	Server *FakeServer
	User   string

	Calls []ClusterPasswordCall
}

// ClusterPasswordCall is one recorded SetClusterPassword call
type ClusterPasswordCall struct {
	ClusterID string
	Password  string
}

// SetClusterPassword records the call and updates Server when configured
func (f *FakeClusterPasswordChanger) SetClusterPassword(_ context.Context, clusterID, password string) error {
	f.mu.Lock()
	f.Calls = append(f.Calls, ClusterPasswordCall{ClusterID: clusterID, Password: password})
	err := f.Err
	f.mu.Unlock()

	if err != nil {
		return err
	}
	if f.Server != nil {
		f.Server.mu.Lock()
		if u, ok := f.Server.Users[f.User]; ok {
			u.Password = password
		}
		f.Server.mu.Unlock()
	}
	return nil
}
