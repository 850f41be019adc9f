// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AllClear Contributors

package session

import "errors"

// ErrNotAuthenticated is returned when no valid current session exists: the
// handle is malformed, unknown, or expired. The malformed and unknown cases
// are deliberately indistinguishable to callers.
var ErrNotAuthenticated = errors.New("not authenticated")
