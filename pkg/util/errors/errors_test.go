/*
Copyright 2019 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/stretchr/testify/assert"
)

func responseCode(code int) error {
	return gophercloud.ErrUnexpectedResponseCode{Actual: code}
}

func TestClassifiers(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		notFound bool
		invalid  bool
		conflict bool
		internal bool
	}{
		{name: "404", err: responseCode(http.StatusNotFound), notFound: true},
		{name: "wrapped 404", err: fmt.Errorf("deleting listener: %w", responseCode(http.StatusNotFound)), notFound: true},
		{name: "sentinel", err: fmt.Errorf("port: %w", ErrNotFound), notFound: true},
		{name: "400", err: responseCode(http.StatusBadRequest), invalid: true},
		{name: "409", err: responseCode(http.StatusConflict), conflict: true},
		{name: "500", err: responseCode(http.StatusInternalServerError), internal: true},
		{name: "plain", err: fmt.Errorf("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.notFound, IsNotFound(tt.err))
			assert.Equal(t, tt.invalid, IsInvalidError(tt.err))
			assert.Equal(t, tt.conflict, IsConflictError(tt.err))
			assert.Equal(t, tt.internal, IsInternalServerError(tt.err))
		})
	}
}

func TestResourceNotReady(t *testing.T) {
	err := NewResourceNotReady("default/web")
	assert.True(t, IsResourceNotReady(err))
	assert.True(t, IsResourceNotReady(fmt.Errorf("listener: %w", err)))
	assert.Contains(t, err.Error(), "default/web")
	assert.False(t, IsResourceNotReady(ErrNotFound))
}
