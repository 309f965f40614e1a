package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitTags(t *testing.T) {
	assert.Equal(t, []string{"ai", "nlp"}, splitTags(" ai, ,nlp ,"))
	assert.Nil(t, splitTags(""))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "인공지...", truncate("인공지능과 언어모델", 6))
}

func TestGetEnv(t *testing.T) {
	t.Setenv("BLOGMIRROR_TEST_VALUE", "set")
	assert.Equal(t, "set", getEnv("BLOGMIRROR_TEST_VALUE", "default"))
	assert.Equal(t, "default", getEnv("BLOGMIRROR_TEST_UNSET", "default"))
}
