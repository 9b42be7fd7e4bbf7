package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/amois3/matrixwatcher/internal/calibration"
)

var calibrateReportCmd = &cobra.Command{
	Use:   "calibrate-report",
	Short: "Run the auto-calibrator once against accumulated threshold history and print its report",
	RunE:  runCalibrateReport,
}

func runCalibrateReport(cmd *cobra.Command, args []string) error {
	calDir := filepath.Join(dataDir, "calibration")

	tracker, err := calibration.NewTracker(calDir)
	if err != nil {
		return err
	}
	defer tracker.Close()

	calibrator := calibration.NewCalibrator(tracker, calDir)

	status := calibrator.Status()
	fmt.Printf("calibration status: ready=%v daysCollecting=%.1f daysNeeded=%d autoApply=%v totalCalibrations=%d\n",
		status.ReadyForCalibration, status.DaysCollecting, status.DaysNeeded, status.AutoApplyEnabled, status.TotalCalibrations)

	result := calibrator.CheckAndCalibrate(time.Now())
	fmt.Printf("run status: %s (%s)\n", result.Status, result.Message)
	fmt.Printf("thresholds analyzed: %d\n", result.ThresholdsAnalyzed)
	for _, rec := range result.Recommendations {
		fmt.Printf("  %-50s current=%.4f recommended=%.4f (%+.1f%%) confidence=%s checks=%d triggerRate=%.4f\n",
			rec.ThresholdName, rec.CurrentValue, rec.RecommendedValue, rec.ChangePercent, rec.Confidence, rec.TotalChecks, rec.CurrentTriggerRate)
	}
	if len(result.AutoApplied) > 0 {
		fmt.Printf("auto-applied: %v\n", result.AutoApplied)
	}

	return nil
}
