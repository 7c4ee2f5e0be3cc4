package bcc_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestBcc(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Block Control Core Suite")
}
