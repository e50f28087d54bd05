package acceptance_test

import (
	"os/exec"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("foreman status", func() {
	var tmpDir, repoDir, configPath string

	BeforeEach(func() {
		repoDir, tmpDir = newTestRepo("foreman-status")

		configPath = filepath.Join(repoDir, "foreman.yaml")
		writeFile(configPath, `
agents:
  echo:
    command: "sh"
    args: ["-c", "echo working"]

gates:
  type_check:
    run: "true"
  lint:
    run: "true"
  test:
    run: "true"
`)
	})

	AfterEach(func() {
		cleanupTestRepo(repoDir, tmpDir)
	})

	Context("before any card has run", func() {
		It("reports no cards have run yet", func() {
			cmd := exec.Command(binaryPath, "status", configPath)
			output, err := cmd.CombinedOutput()
			Expect(err).NotTo(HaveOccurred())
			Expect(string(output)).To(ContainSubstring("no cards have run yet"))
		})
	})
})
