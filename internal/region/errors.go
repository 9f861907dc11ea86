/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package region

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("invalid region")
	ErrNotFound   = errors.New("region not found")
)

// ValidationError reports a malformed region. Index is the position inside an
// import batch, or -1 for single-region operations.
type ValidationError struct {
	Index  int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("region %d: %s: %s", e.Index, e.Field, e.Reason)
	}
	return fmt.Sprintf("region: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError reports a mutation that referenced an unknown id.
type NotFoundError struct{ ID string }

func (e *NotFoundError) Error() string { return fmt.Sprintf("region %q not found", e.ID) }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func invalid(idx int, field, reason string) *ValidationError {
	return &ValidationError{Index: idx, Field: field, Reason: reason}
}
