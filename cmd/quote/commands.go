package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/example/printshop/pkg/config"
	"github.com/example/printshop/pkg/dimension"
	"github.com/example/printshop/pkg/grpc"
	"github.com/example/printshop/pkg/models"
	"github.com/example/printshop/pkg/pricing"
	"github.com/example/printshop/pkg/slicer"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type settingsFlags struct {
	material    string
	layerHeight float64
	infill      int
	pattern     string
	support     bool
}

func (f *settingsFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.material, "material", string(models.MaterialPLA), "PLA, PLA+ or ABS")
	cmd.Flags().Float64Var(&f.layerHeight, "layer-height", models.DefaultLayerHeight, "Layer height in mm")
	cmd.Flags().IntVar(&f.infill, "infill", 20, "Infill density in percent")
	cmd.Flags().StringVar(&f.pattern, "pattern", string(models.InfillGrid), "Infill pattern")
	cmd.Flags().BoolVar(&f.support, "support", false, "Generate support structures")
}

func (f *settingsFlags) settings() (models.PrintSettings, error) {
	s := models.DefaultPrintSettings()
	m, err := models.ParseMaterial(f.material)
	if err != nil {
		return s, err
	}
	s.SetMaterial(m)
	s.LayerHeight = f.layerHeight
	s.InfillDensity = f.infill
	s.InfillPattern = models.InfillPattern(f.pattern)
	s.SupportEnable = f.support
	return s, s.Validate()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "quote",
		Short: "Quote 3D prints from STL files",
		Long: `quote checks whether an STL model fits the printer, prices a print from
slicer output, or runs a full slice against the slicing engine.`,
		SilenceUsage: true,
	}
	root.AddCommand(newDimsCmd(), newPriceCmd(), newSliceCmd())
	return root
}

func newDimsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dims <file.stl>",
		Short: "Print the model size and check it against the build volume",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			dims, err := dimension.FromSTL(f)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "width %.1fmm  height %.1fmm  depth %.1fmm\n", dims.Width, dims.Height, dims.Depth)
			if err := dimension.Check(&dims); err != nil {
				return err
			}
			fmt.Fprintln(out, "fits the build volume")
			return nil
		},
	}
}

func newPriceCmd() *cobra.Command {
	var (
		sf         settingsFlags
		filamentMm float64
		seconds    float64
	)
	cmd := &cobra.Command{
		Use:   "price",
		Short: "Price a print from filament length and print time",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sf.settings()
			if err != nil {
				return err
			}
			grams := pricing.FilamentGrams(filamentMm, s.MaterialType, s.InfillDensity, s.SupportEnable)
			price := pricing.EstimatePrice(filamentMm, seconds, s.MaterialType, s.InfillDensity, s.SupportEnable)
			writeQuote(cmd.OutOrStdout(), grams, pricing.PrintHours(seconds), price)
			return nil
		},
	}
	sf.register(cmd)
	cmd.Flags().Float64Var(&filamentMm, "filament-mm", 0, "Filament length in mm")
	cmd.Flags().Float64Var(&seconds, "seconds", 0, "Print time in seconds")
	return cmd
}

func newSliceCmd() *cobra.Command {
	var (
		sf      settingsFlags
		addr    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "slice <file.stl>",
		Short: "Slice a model on the slicing engine and price the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sf.settings()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			clients := grpc.NewClientManager(&config.SlicerConfig{ServiceName: "slicer-engine", Address: addr}, zap.NewNop(), nil)
			if err := clients.Connect(); err != nil {
				return err
			}
			defer clients.Close()

			orch := slicer.NewOrchestrator(slicer.NewGRPCEngine(clients.SlicerConn()), zap.NewNop(), slicer.WithTimeout(timeout))
			return runSlice(cmd.Context(), cmd.OutOrStdout(), orch, data, s)
		},
	}
	sf.register(cmd)
	cmd.Flags().StringVar(&addr, "addr", "localhost:50061", "Slicing engine address")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Give up after this long")
	return cmd
}

func runSlice(ctx context.Context, out io.Writer, orch *slicer.Orchestrator, data []byte, s models.PrintSettings) error {
	if ctx == nil {
		ctx = context.Background()
	}
	task := orch.Start(ctx, data, s)
	for p := range task.Progress() {
		fmt.Fprintf(out, "\rslicing %3d%%", p)
	}
	fmt.Fprintln(out)

	res, err := task.Wait()
	if err != nil {
		return err
	}
	if res == nil {
		return errors.New("no result")
	}
	writeQuote(out, res.Details.FilamentGrams, pricing.PrintHours(res.Details.PrintSeconds), res.Price)
	return nil
}

func writeQuote(out io.Writer, grams, hours int64, p models.PriceBreakdown) {
	fmt.Fprintf(out, "filament   %d g\n", grams)
	fmt.Fprintf(out, "time       %d h\n", hours)
	fmt.Fprintf(out, "material   %s\n", p.FilamentCost.StringFixed(2))
	fmt.Fprintf(out, "machine    %s\n", p.TimeCost.StringFixed(2))
	fmt.Fprintf(out, "packaging  %s\n", p.PackagingCost.StringFixed(2))
	fmt.Fprintf(out, "handling   %s\n", p.HumanEffortsCost.StringFixed(2))
	fmt.Fprintf(out, "margin     %s\n", p.ProfitCost.StringFixed(2))
	fmt.Fprintf(out, "total      %d\n", p.FinalPrice)
}
