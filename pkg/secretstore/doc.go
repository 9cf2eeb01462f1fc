// Package secretstore defines the versioned secret store contract used by the
// rotation engine.
//
// A secret is a named container of versions. Each version carries a JSON
// payload and zero or more stage labels. Three labels drive rotation:
//
//   - AWSCURRENT: the version applications read today
//   - AWSPENDING: the version being prepared by an in-flight rotation
//   - AWSPREVIOUS: the version that was current before the last rotation
//
// # Invariants
//
// At most one version holds AWSCURRENT and at most one holds AWSPENDING at any
// time. Moving AWSCURRENT to a new version removes it from the prior holder,
// which becomes AWSPREVIOUS. Store implementations must preserve these rules;
// MemoryStore in this package is the reference implementation used in tests.
//
// # Not-found as a value
//
// Rotation uses the absence of a version as control flow ("is there already a
// pending version for this token?", "is the master secret rotating?"). Get
// therefore never reports a missing version as an error. It returns a Lookup
// whose Found field is false:
//
//	lookup, err := store.Get(ctx, secretID, secretstore.StagePending, token)
//	if err != nil {
//	    return err // the store itself failed
//	}
//	if lookup.Found {
//	    return nil // already created for this token
//	}
//
// # Payloads
//
// Payload is the decoded JSON document of a version. The engine reads and
// writes whole payloads; fields it does not know about (engine, dbname, proxy
// settings, ...) are preserved verbatim across rotations.
//
// # Security Considerations
//
// Implementations must never log payload contents. The rotation provisioner
// holds the pending password as a logging.Secret, and both it and the
// connection tester pass driver error text through logging.Redact before
// logging it.
package secretstore
