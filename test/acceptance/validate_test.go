package acceptance_test

import (
	"os/exec"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("foreman validate", func() {
	Context("with a valid config", func() {
		It("exits with code 0", func() {
			cmd := exec.Command(binaryPath, "validate", testdataPath("valid.yaml"))
			err := cmd.Run()
			Expect(err).NotTo(HaveOccurred())
		})

		It("prints a success message", func() {
			cmd := exec.Command(binaryPath, "validate", testdataPath("valid.yaml"))
			output, err := cmd.CombinedOutput()
			Expect(err).NotTo(HaveOccurred())
			Expect(string(output)).To(ContainSubstring("valid"))
		})
	})

	Context("with invalid YAML syntax", func() {
		It("exits with a non-zero code", func() {
			cmd := exec.Command(binaryPath, "validate", testdataPath("invalid_yaml.yaml"))
			err := cmd.Run()
			Expect(err).To(HaveOccurred())
		})

		It("reports a YAML parse error", func() {
			cmd := exec.Command(binaryPath, "validate", testdataPath("invalid_yaml.yaml"))
			output, _ := cmd.CombinedOutput()
			Expect(string(output)).To(ContainSubstring("parsing YAML"))
		})
	})

	Context("with missing required fields", func() {
		It("exits with a non-zero code", func() {
			cmd := exec.Command(binaryPath, "validate", testdataPath("missing_fields.yaml"))
			err := cmd.Run()
			Expect(err).To(HaveOccurred())
		})

		It("reports each missing field", func() {
			cmd := exec.Command(binaryPath, "validate", testdataPath("missing_fields.yaml"))
			output, _ := cmd.CombinedOutput()
			out := string(output)
			Expect(out).To(ContainSubstring("agents.echo: command is required"))
			Expect(out).To(ContainSubstring("gates.type_check: run is required"))
			Expect(out).To(ContainSubstring("gates.lint: run is required"))
			Expect(out).To(ContainSubstring("gates.test: run is required"))
		})
	})

	Context("with a nonexistent file", func() {
		It("exits with a non-zero code", func() {
			cmd := exec.Command(binaryPath, "validate", "/tmp/does-not-exist-foreman.yaml")
			err := cmd.Run()
			Expect(err).To(HaveOccurred())
		})
	})
})
