package misc

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/gomega"
)

func newParser() *CommandLineParser {
	parser := new(CommandLineParser)
	parser.Init()
	parser.AddOption(INT, "verbose", "0", "verbosity")
	parser.AddOption(STRING, "kernel", "memcpy", "kernel name")
	parser.AddOption(INT, "bcc_save_area", "0xF0000", "trap frame address")
	return parser
}

func TestParserAppliesDefaultsAndArgs(t *testing.T) {
	g := NewWithT(t)

	parser := newParser()
	parser.Parse([]string{"bccsim", "--verbose", "2", "--kernel=vecadd", "extra"})

	g.Expect(parser.IntParameter("verbose")).To(Equal(int64(2)))
	g.Expect(parser.StringParameter("kernel")).To(Equal("vecadd"))
	g.Expect(parser.IntParameter("bcc_save_area")).To(Equal(int64(0xF0000)))
	g.Expect(parser.IsArgSet("verbose")).To(BeTrue())
	g.Expect(parser.IsArgSet("bcc_save_area")).To(BeFalse())
	g.Expect(parser.Positionals()).To(Equal([]string{"extra"}))

	g.Expect(parser.StringifyArgs()).To(Equal("--kernel vecadd\n--verbose 2"))
	g.Expect(parser.StringifyOptions()).To(ContainSubstring("bcc_save_area: 0xF0000"))
	g.Expect(parser.StringifyHelpMsgs()).To(ContainSubstring("--kernel"))
}

func TestParserRejectsBadInput(t *testing.T) {
	g := NewWithT(t)

	g.Expect(func() { newParser().Parse([]string{"bccsim", "--nope", "1"}) }).To(Panic())
	g.Expect(func() { newParser().Parse([]string{"bccsim", "--verbose", "lots"}) }).To(Panic())
	g.Expect(func() { newParser().Parse([]string{"bccsim", "--verbose"}) }).To(Panic())
	g.Expect(func() { newParser().StringParameter("verbose") }).To(Panic())

	parser := newParser()
	parser.Parse([]string{"bccsim", "--help"})
	g.Expect(parser.IsArgSet("help")).To(BeTrue())
}

func TestFileDumperCreatesDirectories(t *testing.T) {
	g := NewWithT(t)

	path := filepath.Join(t.TempDir(), "out", "args.txt")
	dumper := new(FileDumper)
	dumper.Init(path)
	dumper.WriteLines([]string{"a", "b"})

	content, err := os.ReadFile(path)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(string(content)).To(Equal("a\nb\n"))
}

func TestFloat16RoundTrip(t *testing.T) {
	g := NewWithT(t)

	g.Expect(Float32ToFloat16(1.0)).To(Equal(uint16(0x3C00)))
	g.Expect(Float32ToFloat16(-2.0)).To(Equal(uint16(0xC000)))
	g.Expect(Float16ToFloat32(0x3555)).To(BeNumerically("~", 0.3333, 1e-3))
	// smallest subnormal
	g.Expect(Float16ToFloat32(0x0001)).To(BeNumerically("~", math.Pow(2, -24), 1e-12))
	g.Expect(Float64ToFloat16(1e6)).To(Equal(uint16(0x7C00)))
	g.Expect(Float64ToFloat16(math.NaN())).To(Equal(uint16(0x7E00)))

	g.Expect(AddFloat16(0x3C00, 0x3C00)).To(Equal(uint16(0x4000)))
	g.Expect(MulFloat16(0x4000, 0x4200)).To(Equal(uint16(0x4600)))
}
