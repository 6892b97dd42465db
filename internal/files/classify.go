package files

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// extensionTypes maps filename suffixes to workspace file types. Longer
// suffixes are checked first so ".fastq.gz" wins over ".gz".
var extensionTypes = []struct {
	suffixes []string
	kind     string
}{
	{[]string{".fastq", ".fq", ".fastq.gz", ".fq.gz"}, "fastq"},
	{[]string{".fasta", ".fa", ".fna", ".faa", ".fasta.gz", ".fa.gz"}, "fasta"},
	{[]string{".sam", ".bam", ".cram"}, "alignment"},
	{[]string{".vcf", ".vcf.gz", ".bcf"}, "variant"},
	{[]string{".gtf", ".gff", ".gff3"}, "annotation"},
	{[]string{".bed", ".bedgraph", ".bigwig", ".bw"}, "genomic"},
	{[]string{".py"}, "python"},
	{[]string{".r", ".rmd"}, "r"},
	{[]string{".sh"}, "shell"},
	{[]string{".pl", ".pm"}, "perl"},
	{[]string{".txt", ".md", ".log"}, "text"},
	{[]string{".csv", ".tsv"}, "tabular"},
	{[]string{".json"}, "json"},
	{[]string{".xml"}, "xml"},
	{[]string{".pdf"}, "pdf"},
}

// TypeOf classifies a file by its name.
func TypeOf(name string) string {
	lower := strings.ToLower(name)
	for _, entry := range extensionTypes {
		for _, suffix := range entry.suffixes {
			if strings.HasSuffix(lower, suffix) {
				return entry.kind
			}
		}
	}
	return "file"
}

// detectText sniffs the file on disk and reports whether it holds text the
// editor can display. Unreadable files are treated as binary.
func detectText(path string) (string, bool) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "", false
	}
	for m := mtype; m != nil; m = m.Parent() {
		if m.Is("text/plain") || m.Is("application/json") || m.Is("application/xml") {
			return mtype.String(), true
		}
	}
	return mtype.String(), false
}
