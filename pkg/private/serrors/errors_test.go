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

package serrors_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flowgate/flowgate/pkg/private/serrors"
)

func TestNewFormatsContext(t *testing.T) {
	err := serrors.New("connection refused", "port", 443, "addr", "::1")
	assert.Equal(t, "connection refused {addr=::1; port=443}", err.Error())
	assert.ErrorIs(t, err, err)
}

func TestWrapUnwraps(t *testing.T) {
	inner := errors.New("inner")
	err := serrors.Wrap("outer", inner, "key", "value")
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "outer")
	assert.Contains(t, err.Error(), "key=value")
	assert.Contains(t, err.Error(), "inner")
}

func TestJoinSupportsSentinels(t *testing.T) {
	sentinel := errors.New("not found")
	cause := errors.New("disk error")
	err := serrors.Join(sentinel, cause, "path", "/x")
	assert.ErrorIs(t, err, sentinel)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "not found")
	assert.Contains(t, err.Error(), "path=/x")

	assert.NoError(t, serrors.Join(nil, nil))
}

func TestList(t *testing.T) {
	var l serrors.List
	assert.NoError(t, l.ToError())
	l = append(l, errors.New("a"), errors.New("b"))
	assert.Equal(t, "[ a; b ]", l.ToError().Error())
}
