// Package fakes provides test doubles for the AWS SDK clients and the
// database dialer used by dbrotate.
//
// Fakes are manually implemented (not generated) to provide precise control
// over test behavior. FakeSecretsManagerClient keeps the staging label rules
// of the real service so rotation phases can run end to end against it.
//
// Usage:
//
//	sm := fakes.NewFakeSecretsManagerClient()
//	sm.AddSecretString("prod/app/mysql", "v1", `{"username":"app_user_1",...}`)
//	store := providers.NewSecretsManagerStore(cfg, providers.WithSecretsManagerClient(sm))
//	// Run rotation phases against store...
package fakes
