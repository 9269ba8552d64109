package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/JohnDoee/thomas/internal/fileio"
	"github.com/JohnDoee/thomas/internal/rar"
)

func init() {
	rarinfoCmd := &cobra.Command{
		Use:   "rarinfo <path>",
		Short: "Print the file entries and volume-numbering style of a local RAR volume",
		Args:  cobra.ExactArgs(1),
		RunE:  runRarinfo,
	}
	rootCmd.AddCommand(rarinfoCmd)
}

func runRarinfo(cmd *cobra.Command, args []string) error {
	path := args[0]

	fs := afero.NewOsFs()
	r := fileio.New(fs, path)
	defer r.Close()

	if err := r.Seek(0); err != nil {
		return err
	}

	version, err := rar.DetectVersion(&fileReaderAdapter{r: r})
	if err != nil {
		return err
	}

	result, err := rar.ScanVolume(version, &fileReaderAdapter{r: r})
	if err != nil {
		return err
	}

	numbering := "old-style"
	if result.Main.NewNumbering || version == rar.Version5 {
		numbering = "new-style"
	}
	fmt.Printf("%s: version=%v numbering=%s recovery=%v\n", path, version, numbering, result.Main.Recovery)

	for _, f := range result.Files {
		fmt.Printf("  %s\tpacked=%d\tunpacked=%d\tstored=%v\tsplit_after=%v\n",
			f.Name, f.PackedSize, f.UnpackedSize, f.Stored, f.SplitAfter)
	}

	return nil
}

// fileReaderAdapter turns fileio.Reader's Read(n)([]byte,error) into an
// io.Reader for the RAR header parser.
type fileReaderAdapter struct {
	r *fileio.Reader
}

func (a *fileReaderAdapter) Read(p []byte) (int, error) {
	data, err := a.r.Read(len(p))
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, io.EOF
	}
	return copy(p, data), nil
}
