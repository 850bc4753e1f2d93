package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/navstack/internal/nav/l1geometry"
	"github.com/banshee-data/navstack/internal/nav/l3detect"
	"github.com/banshee-data/navstack/internal/nav/l4planner"
	"github.com/banshee-data/navstack/internal/nav/l5pursuit"
	"github.com/banshee-data/navstack/internal/nav/l6mission"
)

// defaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const defaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for navigation tuning.
// Every field is optional; the Get* accessors fall back to the reference
// vehicle's values.
type TuningConfig struct {
	// Pursuit controller
	MaxLinearVelocity         *float64   `json:"max_linear_velocity,omitempty"`  // m/s
	MaxAngularVelocity        *float64   `json:"max_angular_velocity,omitempty"` // rad/s
	MaxCurvatureAccelBudget   *float64   `json:"max_curvature_accel_budget,omitempty"`
	HeadingErrorThresholdsDeg *[]float64 `json:"heading_error_thresholds_deg,omitempty"` // [wide, narrow]
	HeadingErrorGains         *[]float64 `json:"heading_error_gains,omitempty"`          // [wide, narrow, straight]

	// Mission
	LookAheadDistance      *float64 `json:"look_ahead_distance,omitempty"`
	CollisionCheckInterval *int     `json:"collision_check_interval,omitempty"`
	ControlRate            *float64 `json:"control_rate,omitempty"`           // Hz
	PlanningSettleDelay    *string  `json:"planning_settle_delay,omitempty"` // duration string like "3s"
	PlaceAtFirstWaypoint   *bool    `json:"place_at_first_waypoint,omitempty"`
	EscapeRadius           *int     `json:"escape_radius,omitempty"` // cells

	// Planner
	PlannerStepSize        *float64           `json:"planner_step_size,omitempty"`
	PlannerIterationBudget *int               `json:"planner_iteration_budget,omitempty"`
	GoalBias               *float64           `json:"goal_bias,omitempty"`
	PlannerSeed            *uint64            `json:"planner_seed,omitempty"`
	PlannerMaxAttempts     *int               `json:"planner_max_attempts,omitempty"`
	PlannerMaxDuration     *string            `json:"planner_max_duration,omitempty"`
	PlannerWorldBounds     *l1geometry.Bounds `json:"planner_world_bounds,omitempty"`

	// Occupancy grid
	ObstacleMargin    *int `json:"obstacle_margin,omitempty"`
	NewObstacleMargin *int `json:"new_obstacle_margin,omitempty"`

	// Obstacle detector
	ObstacleDetectionRadius *float64 `json:"obstacle_detection_radius,omitempty"`
	ObstacleHeightThreshold *float64 `json:"obstacle_height_threshold,omitempty"`
	WiggleThreshold         *int     `json:"wiggle_threshold,omitempty"`
	ScanRow                 *int     `json:"scan_row,omitempty"`
	SampleStride            *int     `json:"sample_stride,omitempty"`
	ScanEdgeMargin          *int     `json:"scan_edge_margin,omitempty"`
	GroundHeight            *float64 `json:"ground_height,omitempty"`
	LateralViewHalfWidth    *float64 `json:"lateral_view_half_width,omitempty"`
	InteriorMargin          *int     `json:"interior_margin,omitempty"`

	Waypoints []l1geometry.Waypoint `json:"waypoints,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64     { return &v }
func ptrBool(v bool) *bool              { return &v }
func ptrString(v string) *string        { return &v }
func ptrInt(v int) *int                 { return &v }
func ptrFloats(v ...float64) *[]float64 { return &v }
func ptrUint64(v uint64) *uint64        { return &v }

// emptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func emptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a config with every field populated with the
// reference values. It must agree with defaultConfigPath.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		MaxLinearVelocity:         ptrFloat64(0.25),
		MaxAngularVelocity:        ptrFloat64(math.Pi / 180 * 300 / 10),
		MaxCurvatureAccelBudget:   ptrFloat64(0.1),
		HeadingErrorThresholdsDeg: ptrFloats(90, 10),
		HeadingErrorGains:         ptrFloats(10, 5, 1),

		LookAheadDistance:      ptrFloat64(0.5),
		CollisionCheckInterval: ptrInt(3),
		ControlRate:            ptrFloat64(10),
		PlanningSettleDelay:    ptrString("3s"),
		PlaceAtFirstWaypoint:   ptrBool(true),
		EscapeRadius:           ptrInt(26),

		PlannerStepSize:        ptrFloat64(0.25),
		PlannerIterationBudget: ptrInt(50000),
		GoalBias:               ptrFloat64(0.05),
		PlannerSeed:            ptrUint64(0),
		PlannerMaxAttempts:     ptrInt(0),
		PlannerMaxDuration:     ptrString("0s"),

		ObstacleMargin:    ptrInt(13),
		NewObstacleMargin: ptrInt(13),

		ObstacleDetectionRadius: ptrFloat64(2.5),
		ObstacleHeightThreshold: ptrFloat64(0.35),
		WiggleThreshold:         ptrInt(50),
		ScanRow:                 ptrInt(229),
		SampleStride:            ptrInt(3),
		ScanEdgeMargin:          ptrInt(10),
		GroundHeight:            ptrFloat64(0.3099),
		LateralViewHalfWidth:    ptrFloat64(0.7),
		InteriorMargin:          ptrInt(13),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file fall back to their defaults through
// the Get* accessors, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := emptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func positive(name string, v *float64) error {
	if v != nil && !(*v > 0) {
		return fmt.Errorf("%s must be positive, got %v", name, *v)
	}
	return nil
}

func atLeast(name string, v *int, lo int) error {
	if v != nil && *v < lo {
		return fmt.Errorf("%s must be at least %d, got %d", name, lo, *v)
	}
	return nil
}

func duration(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	if d < 0 {
		return fmt.Errorf("%s must not be negative, got %s", name, *v)
	}
	return nil
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	for _, check := range []error{
		positive("max_linear_velocity", c.MaxLinearVelocity),
		positive("max_angular_velocity", c.MaxAngularVelocity),
		positive("max_curvature_accel_budget", c.MaxCurvatureAccelBudget),
		positive("look_ahead_distance", c.LookAheadDistance),
		positive("planner_step_size", c.PlannerStepSize),
		positive("obstacle_detection_radius", c.ObstacleDetectionRadius),
		positive("lateral_view_half_width", c.LateralViewHalfWidth),
		atLeast("collision_check_interval", c.CollisionCheckInterval, 1),
		atLeast("planner_iteration_budget", c.PlannerIterationBudget, 1),
		atLeast("planner_max_attempts", c.PlannerMaxAttempts, 0),
		atLeast("obstacle_margin", c.ObstacleMargin, 0),
		atLeast("new_obstacle_margin", c.NewObstacleMargin, 0),
		atLeast("wiggle_threshold", c.WiggleThreshold, 0),
		atLeast("scan_row", c.ScanRow, 0),
		atLeast("sample_stride", c.SampleStride, 1),
		atLeast("scan_edge_margin", c.ScanEdgeMargin, 1),
		atLeast("interior_margin", c.InteriorMargin, 0),
		atLeast("escape_radius", c.EscapeRadius, 0),
		duration("planning_settle_delay", c.PlanningSettleDelay),
		duration("planner_max_duration", c.PlannerMaxDuration),
	} {
		if check != nil {
			return check
		}
	}

	if c.ControlRate != nil && *c.ControlRate < 0 {
		return fmt.Errorf("control_rate must not be negative, got %v", *c.ControlRate)
	}
	if c.GoalBias != nil && (*c.GoalBias < 0 || *c.GoalBias >= 1) {
		return fmt.Errorf("goal_bias must be in [0, 1), got %v", *c.GoalBias)
	}
	if c.HeadingErrorThresholdsDeg != nil {
		th := *c.HeadingErrorThresholdsDeg
		if len(th) != 2 || th[0] < th[1] {
			return fmt.Errorf("heading_error_thresholds_deg must be [wide, narrow], got %v", th)
		}
	}
	if c.HeadingErrorGains != nil && len(*c.HeadingErrorGains) != 3 {
		return fmt.Errorf("heading_error_gains needs 3 values, got %v", *c.HeadingErrorGains)
	}
	if c.PlannerWorldBounds != nil && !c.PlannerWorldBounds.Valid() {
		return fmt.Errorf("planner_world_bounds is empty: %+v", *c.PlannerWorldBounds)
	}
	return nil
}

func getFloat(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func getInt(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func getDuration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetMaxLinearVelocity returns the max_linear_velocity value or the default.
func (c *TuningConfig) GetMaxLinearVelocity() float64 { return getFloat(c.MaxLinearVelocity, 0.25) }

// GetMaxAngularVelocity returns the max_angular_velocity value or the default.
func (c *TuningConfig) GetMaxAngularVelocity() float64 {
	return getFloat(c.MaxAngularVelocity, math.Pi/180*300/10)
}

// GetMaxCurvatureAccelBudget returns the max_curvature_accel_budget value or the default.
func (c *TuningConfig) GetMaxCurvatureAccelBudget() float64 {
	return getFloat(c.MaxCurvatureAccelBudget, 0.1)
}

// GetHeadingErrorThresholds returns [wide, narrow] in radians.
func (c *TuningConfig) GetHeadingErrorThresholds() [2]float64 {
	if c.HeadingErrorThresholdsDeg == nil || len(*c.HeadingErrorThresholdsDeg) != 2 {
		return [2]float64{math.Pi / 2, math.Pi / 18}
	}
	th := *c.HeadingErrorThresholdsDeg
	return [2]float64{th[0] * math.Pi / 180, th[1] * math.Pi / 180}
}

// GetHeadingErrorGains returns the tiered gains or the default.
func (c *TuningConfig) GetHeadingErrorGains() [3]float64 {
	if c.HeadingErrorGains == nil || len(*c.HeadingErrorGains) != 3 {
		return [3]float64{10, 5, 1}
	}
	g := *c.HeadingErrorGains
	return [3]float64{g[0], g[1], g[2]}
}

// GetLookAheadDistance returns the look_ahead_distance value or the default.
func (c *TuningConfig) GetLookAheadDistance() float64 { return getFloat(c.LookAheadDistance, 0.5) }

// GetCollisionCheckInterval returns the collision_check_interval value or the default.
func (c *TuningConfig) GetCollisionCheckInterval() int { return getInt(c.CollisionCheckInterval, 3) }

// GetControlRate returns the control loop frequency in Hz.
func (c *TuningConfig) GetControlRate() float64 { return getFloat(c.ControlRate, 10) }

// GetPlanningSettleDelay parses and returns the PlanningSettleDelay as a time.Duration.
func (c *TuningConfig) GetPlanningSettleDelay() time.Duration {
	return getDuration(c.PlanningSettleDelay, 3*time.Second)
}

// GetPlaceAtFirstWaypoint returns the place_at_first_waypoint value or the default.
func (c *TuningConfig) GetPlaceAtFirstWaypoint() bool {
	if c.PlaceAtFirstWaypoint == nil {
		return true
	}
	return *c.PlaceAtFirstWaypoint
}

// GetEscapeRadius returns the escape_radius value or the default.
func (c *TuningConfig) GetEscapeRadius() int { return getInt(c.EscapeRadius, 26) }

// GetPlannerStepSize returns the planner_step_size value or the default.
func (c *TuningConfig) GetPlannerStepSize() float64 { return getFloat(c.PlannerStepSize, 0.25) }

// GetPlannerIterationBudget returns the planner_iteration_budget value or the default.
func (c *TuningConfig) GetPlannerIterationBudget() int {
	return getInt(c.PlannerIterationBudget, 50000)
}

// GetGoalBias returns the goal_bias value or the default.
func (c *TuningConfig) GetGoalBias() float64 { return getFloat(c.GoalBias, 0.05) }

// GetPlannerSeed returns the planner_seed value; 0 means seed randomly.
func (c *TuningConfig) GetPlannerSeed() uint64 {
	if c.PlannerSeed == nil {
		return 0
	}
	return *c.PlannerSeed
}

// GetPlannerMaxAttempts returns the planner_max_attempts value; 0 means unlimited.
func (c *TuningConfig) GetPlannerMaxAttempts() int { return getInt(c.PlannerMaxAttempts, 0) }

// GetPlannerMaxDuration parses and returns the PlannerMaxDuration; 0 means unlimited.
func (c *TuningConfig) GetPlannerMaxDuration() time.Duration {
	return getDuration(c.PlannerMaxDuration, 0)
}

// GetPlannerWorldBounds returns the sampling rectangle, or the zero value to
// sample the whole map.
func (c *TuningConfig) GetPlannerWorldBounds() l1geometry.Bounds {
	if c.PlannerWorldBounds == nil {
		return l1geometry.Bounds{}
	}
	return *c.PlannerWorldBounds
}

// GetObstacleMargin returns the obstacle_margin value or the default.
func (c *TuningConfig) GetObstacleMargin() int { return getInt(c.ObstacleMargin, 13) }

// GetNewObstacleMargin returns the new_obstacle_margin value or the default.
func (c *TuningConfig) GetNewObstacleMargin() int { return getInt(c.NewObstacleMargin, 13) }

// GetObstacleDetectionRadius returns the obstacle_detection_radius value or the default.
func (c *TuningConfig) GetObstacleDetectionRadius() float64 {
	return getFloat(c.ObstacleDetectionRadius, 2.5)
}

// GetObstacleHeightThreshold returns the obstacle_height_threshold value or the default.
func (c *TuningConfig) GetObstacleHeightThreshold() float64 {
	return getFloat(c.ObstacleHeightThreshold, 0.35)
}

// GetWiggleThreshold returns the wiggle_threshold value or the default.
func (c *TuningConfig) GetWiggleThreshold() int { return getInt(c.WiggleThreshold, 50) }

func (c *TuningConfig) GetScanRow() int        { return getInt(c.ScanRow, 229) }
func (c *TuningConfig) GetSampleStride() int   { return getInt(c.SampleStride, 3) }
func (c *TuningConfig) GetScanEdgeMargin() int { return getInt(c.ScanEdgeMargin, 10) }

// GetGroundHeight returns the camera height above the floor.
func (c *TuningConfig) GetGroundHeight() float64 { return getFloat(c.GroundHeight, 0.3099) }

// GetLateralViewHalfWidth returns the lateral_view_half_width value or the default.
func (c *TuningConfig) GetLateralViewHalfWidth() float64 {
	return getFloat(c.LateralViewHalfWidth, 0.7)
}

// GetInteriorMargin returns the interior_margin value or the default.
func (c *TuningConfig) GetInteriorMargin() int { return getInt(c.InteriorMargin, 13) }

// ToPursuit builds the pursuit controller configuration.
func (c *TuningConfig) ToPursuit() l5pursuit.Config {
	return l5pursuit.Config{
		MaxLinear:         c.GetMaxLinearVelocity(),
		MaxAngular:        c.GetMaxAngularVelocity(),
		CurvatureBudget:   c.GetMaxCurvatureAccelBudget(),
		HeadingThresholds: c.GetHeadingErrorThresholds(),
		Gains:             c.GetHeadingErrorGains(),
	}
}

// ToPlanner builds the planner configuration.
func (c *TuningConfig) ToPlanner() l4planner.Config {
	return l4planner.Config{
		Bounds:          c.GetPlannerWorldBounds(),
		IterationBudget: c.GetPlannerIterationBudget(),
		StepSize:        c.GetPlannerStepSize(),
		GoalBias:        c.GetGoalBias(),
		MaxAttempts:     c.GetPlannerMaxAttempts(),
		MaxDuration:     c.GetPlannerMaxDuration(),
		Seed:            c.GetPlannerSeed(),
	}
}

// ToDetector builds the obstacle detector configuration.
func (c *TuningConfig) ToDetector() l3detect.Config {
	return l3detect.Config{
		ScanRow:           c.GetScanRow(),
		SampleStride:      c.GetSampleStride(),
		EdgeMargin:        c.GetScanEdgeMargin(),
		GroundHeight:      c.GetGroundHeight(),
		HeightThreshold:   c.GetObstacleHeightThreshold(),
		DetectionRadius:   c.GetObstacleDetectionRadius(),
		LateralHalfWidth:  c.GetLateralViewHalfWidth(),
		WiggleThreshold:   c.GetWiggleThreshold(),
		NewObstacleMargin: c.GetNewObstacleMargin(),
		InteriorMargin:    c.GetInteriorMargin(),
	}
}

// ToMission builds the mission configuration, including the waypoints.
func (c *TuningConfig) ToMission() l6mission.Config {
	return l6mission.Config{
		Waypoints:              append([]l1geometry.Waypoint(nil), c.Waypoints...),
		LookAhead:              c.GetLookAheadDistance(),
		CollisionCheckInterval: c.GetCollisionCheckInterval(),
		ControlRate:            c.GetControlRate(),
		SettleDelay:            c.GetPlanningSettleDelay(),
		PlaceAtFirstWaypoint:   c.GetPlaceAtFirstWaypoint(),
		EscapeRadius:           c.GetEscapeRadius(),
	}
}
