// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package generations

import "fmt"

// NotFoundError reports an unknown generation number.
type NotFoundError struct {
	Generation int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Generation %d does not exist.", e.Generation)
}

// AlreadyLiveError refuses to switch to the generation that is
// already live.
type AlreadyLiveError struct {
	Generation int
}

func (e *AlreadyLiveError) Error() string {
	return fmt.Sprintf("Generation %d is already the live generation.", e.Generation)
}
