package acceptance_test

import (
	"os"
	"os/exec"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("foreman submit", func() {
	var tmpDir, repoDir, configPath string

	BeforeEach(func() {
		repoDir, tmpDir = newTestRepo("foreman-submit")

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

	Context("with no daemon running", func() {
		It("exits with code 0 and writes a brief file", func() {
			cmd := exec.Command(binaryPath, "submit", configPath, "Fix the flaky login test")
			output, err := cmd.CombinedOutput()
			Expect(err).NotTo(HaveOccurred(), "submit failed: %s", string(output))
			Expect(string(output)).To(ContainSubstring("task brief filed at"))
		})

		It("tells the operator no daemon is running", func() {
			cmd := exec.Command(binaryPath, "submit", configPath, "Fix the flaky login test")
			output, err := cmd.CombinedOutput()
			Expect(err).NotTo(HaveOccurred())
			Expect(string(output)).To(ContainSubstring("no running daemon found"))
		})

		It("persists a JSON brief under .foreman/briefs", func() {
			cmd := exec.Command(binaryPath, "submit", configPath, "Fix the flaky login test")
			Expect(cmd.Run()).To(Succeed())

			entries, err := os.ReadDir(filepath.Join(repoDir, ".foreman", "briefs"))
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(1))

			data, err := os.ReadFile(filepath.Join(repoDir, ".foreman", "briefs", entries[0].Name()))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring("Fix the flaky login test"))
		})
	})

	Context("with an invalid config", func() {
		It("exits with a non-zero code before writing anything", func() {
			badConfig := filepath.Join(repoDir, "bad.yaml")
			writeFile(badConfig, "agents: {}\n")

			cmd := exec.Command(binaryPath, "submit", badConfig, "Should not be filed")
			err := cmd.Run()
			Expect(err).To(HaveOccurred())

			_, statErr := os.Stat(filepath.Join(repoDir, ".foreman", "briefs"))
			Expect(os.IsNotExist(statErr)).To(BeTrue())
		})
	})
})
