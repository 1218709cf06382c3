package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Key namespaces. Versioned families avoid wildcard deletes: bumping a
// version counter orphans every key minted under the old version, and
// TTLs reclaim the space.
const (
	prefixReview    = "review"
	prefixAggregate = "agg"

	verPatientPrefix = "ver:patient:"
	verPopulationKey = "ver:population"
)

// Digest canonicalizes a parameter set into a stable hex digest. Equal
// maps always digest equally; float values must be formatted by the
// caller with FormatFloat so 2.0 and 2 cannot diverge.
func Digest(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
		b.WriteByte('\n')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// FormatFloat renders a float for digest input.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ReviewKey names one patient's assembled review under a filter digest
// and the patient's current version.
func ReviewKey(patientID uuid.UUID, digest string, version int64) string {
	return fmt.Sprintf("%s:%s:%s:v%d", prefixReview, patientID, digest, version)
}

// AggregateKey names one cohort aggregate under the population version.
func AggregateKey(institutionID, constructID uuid.UUID, digest string, version int64) string {
	return fmt.Sprintf("%s:%s:%s:%s:v%d", prefixAggregate, institutionID, constructID, digest, version)
}

// Versions reads and bumps the invalidation counters. A missing counter
// reads as version 0.
type Versions struct {
	backend Backend
}

func NewVersions(backend Backend) *Versions {
	return &Versions{backend: backend}
}

func (v *Versions) read(ctx context.Context, key string) (int64, error) {
	raw, ok, err := v.backend.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt version counter %s: %w", key, err)
	}
	return n, nil
}

// Patient returns the patient's current cache version.
func (v *Versions) Patient(ctx context.Context, patientID uuid.UUID) (int64, error) {
	return v.read(ctx, verPatientPrefix+patientID.String())
}

// BumpPatient invalidates every key minted for the patient.
func (v *Versions) BumpPatient(ctx context.Context, patientID uuid.UUID) (int64, error) {
	return v.backend.Incr(ctx, verPatientPrefix+patientID.String())
}

// Population returns the cross-patient aggregate version.
func (v *Versions) Population(ctx context.Context) (int64, error) {
	return v.read(ctx, verPopulationKey)
}

// BumpPopulation invalidates every cohort aggregate.
func (v *Versions) BumpPopulation(ctx context.Context) (int64, error) {
	return v.backend.Incr(ctx, verPopulationKey)
}
