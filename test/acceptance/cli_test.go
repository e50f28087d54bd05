package acceptance_test

import (
	"os/exec"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("CLI", func() {
	Describe("foreman --help", func() {
		It("exits with code 0", func() {
			cmd := exec.Command(binaryPath, "--help")
			err := cmd.Run()
			Expect(err).NotTo(HaveOccurred())
		})

		It("shows the tool description", func() {
			cmd := exec.Command(binaryPath, "--help")
			output, err := cmd.CombinedOutput()
			Expect(err).NotTo(HaveOccurred())
			Expect(string(output)).To(ContainSubstring("Supervise coding agents"))
		})

		It("lists available commands", func() {
			cmd := exec.Command(binaryPath, "--help")
			output, err := cmd.CombinedOutput()
			Expect(err).NotTo(HaveOccurred())
			out := string(output)
			Expect(out).To(ContainSubstring("Available Commands"))
			Expect(out).To(ContainSubstring("run"))
			Expect(out).To(ContainSubstring("status"))
			Expect(out).To(ContainSubstring("submit"))
			Expect(out).To(ContainSubstring("validate"))
			Expect(out).To(ContainSubstring("version"))
		})
	})

	Describe("foreman version", func() {
		It("exits with code 0", func() {
			cmd := exec.Command(binaryPath, "version")
			err := cmd.Run()
			Expect(err).NotTo(HaveOccurred())
		})

		It("prints a version string", func() {
			cmd := exec.Command(binaryPath, "version")
			output, err := cmd.CombinedOutput()
			Expect(err).NotTo(HaveOccurred())
			Expect(string(output)).To(MatchRegexp(`foreman \S+`))
		})
	})

	Describe("an unknown subcommand", func() {
		It("exits with a non-zero code", func() {
			cmd := exec.Command(binaryPath, "not-a-real-command")
			err := cmd.Run()
			Expect(err).To(HaveOccurred())
		})
	})
})
