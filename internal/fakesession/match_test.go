// SPDX-License-Identifier: Apache-2.0 OR EPL-2.0

package fakesession

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyExprIntersectsExact(t *testing.T) {
	assert.True(t, keyExprIntersects("demo/a/b", "demo/a/b"))
	assert.False(t, keyExprIntersects("demo/a/b", "demo/a/c"))
}

func TestKeyExprIntersectsSingleWildcard(t *testing.T) {
	assert.True(t, keyExprIntersects("demo/*/b", "demo/a/b"))
	assert.False(t, keyExprIntersects("demo/*/b", "demo/a/b/c"))
}

func TestKeyExprIntersectsDoubleWildcard(t *testing.T) {
	assert.True(t, keyExprIntersects("demo/@adv/pub/**", "demo/@adv/pub/01/1/_"))
	assert.True(t, keyExprIntersects("demo/@adv/**", "demo/@adv/pub/01/1/_"))
	assert.True(t, keyExprIntersects("demo/@adv/*/01/1/**", "demo/@adv/pub/01/1/_"))
	assert.False(t, keyExprIntersects("demo/@adv/*/01/1/**", "demo/@adv/pub/02/1/_"))
}

func TestKeyExprIntersectsBothSidesWildcard(t *testing.T) {
	assert.True(t, keyExprIntersects("demo/**", "demo/**"))
	assert.True(t, keyExprIntersects("a/*/c", "a/b/*"))
}
