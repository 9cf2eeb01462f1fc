// Package rotation rotates database credentials held in a versioned secret
// store.
//
// A rotation is driven from outside, one phase per invocation. The package
// never advances phases on its own; the trigger re-invokes for the next one.
//
//	createSecret ──► setSecret ──► testSecret ──► finishSecret
//	     │               │              │              │
//	 new AWSPENDING   provision     connect with   move AWSCURRENT
//	 version under    credential    the pending    to the token
//	 the token        in database   credential
//
// Every phase is idempotent for a given request token: re-running it either
// does nothing or converges to the same result.
//
// # Strategies
//
// Two strategies are provided:
//
//   - Multi-user: alternates between two application users so the previous
//     user stays valid until the rotation finishes. setSecret connects as a
//     master user, creates or updates the next user and copies the grants of
//     the current one (see package privileges).
//   - Single-user: changes the password of one administrative user in place
//     through the cluster management API.
//
// # Concurrent master rotation
//
// The master credential used by the multi-user strategy may be rotating at
// the same time on its own schedule. The provisioner therefore resolves the
// master credential fresh on every attempt, preferring its AWSPENDING version
// over AWSCURRENT, and retries with exponential backoff. When a pending master
// version is seen up front it waits once before the first attempt.
//
// # Usage
//
//	coordinator := rotation.NewCoordinator(store, strategy, tester, logger, recorder)
//	err := coordinator.Handle(ctx, rotation.Request{
//	    Phase:    rotation.PhaseCreateSecret,
//	    SecretID: "arn:aws:secretsmanager:...:secret:app",
//	    Token:    token,
//	})
//
// # Security
//
// Passwords are never logged. Usernames and hosts are.
package rotation
