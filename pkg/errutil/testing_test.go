// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

package errutil_test

import (
	"testing"

	"github.com/samber/oops"

	"github.com/elouarate/gallery-admin/pkg/errutil"
)

func TestAssertErrorCode_MatchingCode(t *testing.T) {
	err := oops.Code("RESET_SWEEP_FAILED").Errorf("sweep failed")
	errutil.AssertErrorCode(t, err, "RESET_SWEEP_FAILED")
}

func TestAssertErrorContext_MatchingKeyValue(t *testing.T) {
	err := oops.With("principal_id", "01J0000000000000000000000A").Errorf("lookup failed")
	errutil.AssertErrorContext(t, err, "principal_id", "01J0000000000000000000000A")
}
