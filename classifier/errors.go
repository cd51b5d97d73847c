// Copyright 2025 The Flowgate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package classifier

import "errors"

// The classifier error taxonomy. Errors returned by this package wrap one
// of these sentinels; match with errors.Is.
var (
	// ErrInvalidMatch indicates a rule mask that pins bits outside the
	// registered header fields.
	ErrInvalidMatch = errors.New("match pins unregistered header bits")
	// ErrAlreadyInstalled indicates Insert or Replace called with a rule
	// that is already installed; a caller contract violation.
	ErrAlreadyInstalled = errors.New("rule is already installed")
	// ErrNotInstalled indicates Remove called with a rule that is not
	// installed in this classifier.
	ErrNotInstalled = errors.New("rule is not installed in this classifier")
	// ErrConfigInvalid indicates an invalid configuration request, such as
	// reconfiguring prefix fields on a non-empty classifier.
	ErrConfigInvalid = errors.New("invalid classifier configuration")
	// ErrOutOfMemory is reserved for allocation failure during Insert or
	// trie growth. Under the Go runtime allocation failure aborts the
	// process, so this sentinel is kept for API parity and is never
	// returned.
	ErrOutOfMemory = errors.New("out of memory")
)
