package rotation_test

import (
	"context"
	"fmt"

	"github.com/systmms/dbrotate/pkg/rotation"
	"github.com/systmms/dbrotate/pkg/secretstore"
	"github.com/systmms/dbrotate/tests/fakes"
)

// ExampleNextIdentity shows how the multi-user strategy alternates users
func ExampleNextIdentity() {
	user := "app_user_1"
	for i := 0; i < 3; i++ {
		user = rotation.NextIdentity(user, "app_user_1", "app_user_2")
		fmt.Println(user)
	}
	// Output:
	// app_user_2
	// app_user_1
	// app_user_2
}

// ExampleParseEvent decodes the event Secrets Manager sends to a rotation function
func ExampleParseEvent() {
	req, err := rotation.ParseEvent([]byte(`{
		"Step": "finishSecret",
		"SecretId": "arn:aws:secretsmanager:us-east-1:123456789012:secret:app",
		"ClientRequestToken": "3c1b0ad8-1d6e-4f1a-9b34-2f7c4f0e9a11"
	}`))
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(req.Phase, req.Token)
	// Output: finishSecret 3c1b0ad8-1d6e-4f1a-9b34-2f7c4f0e9a11
}

// ExampleCoordinator_CreateSecret stages a new pending version
func ExampleCoordinator_CreateSecret() {
	ctx := context.Background()
	store := secretstore.NewMemoryStore()
	store.Seed("app", "v1", secretstore.Payload{
		"host": "db.internal", "port": 3306, "username": "admin", "password": "old",
	})

	strategy := &rotation.SingleUserStrategy{Generator: &fakes.FakeGenerator{}}
	coordinator := rotation.NewCoordinator(store, strategy, nil, nil, nil)

	if err := coordinator.CreateSecret(ctx, "app", "token-1"); err != nil {
		fmt.Println(err)
		return
	}

	pending, _ := store.Get(ctx, "app", secretstore.StagePending, "token-1")
	fmt.Println(pending.Payload.Username(), pending.Payload.Password())
	// Output: admin Passw0rd!1
}
