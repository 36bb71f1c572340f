// Package fisioflow is the PHI core of the FisioFlow clinical record: it
// stores SOAP treatment notes with every narrative field encrypted under a
// per-professional data key, keeps decrypted notes in wipeable caches and
// reads records written before encryption was introduced.
//
// # Quick Start
//
//	cfg, err := fisioflow.LoadConfig("fisioflow.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	rt, err := fisioflow.New(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close()
//
//	ctx = fisioflow.WithActor(ctx, professionalID)
//	id, err := rt.Notes.Create(ctx, fisioflow.NoteInput{
//	    PatientID:  patientID,
//	    Subjective: fisioflow.TextPtr("dor lombar"),
//	})
//
// # Key Management
//
// Every professional owns one data key (DEK). DEKs are created on first
// use, wrapped by a key encryption key (KEK) held in a KMS (local, AWS KMS
// or Vault Transit) and recorded in a SQLite key store. Rotating the KEK
// never re-encrypts notes; RewrapOwnerKeys only re-wraps the DEKs.
//
// # Cache Wipes
//
// Decrypted notes and unwrapped DEKs live in caches registered with one
// phicache.Manager. Runtime.Caches.ClearAll wipes all of them and, when
// Redis is configured, every other instance as well.
package fisioflow
