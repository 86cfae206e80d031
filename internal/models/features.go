package models

const (
	FeatureBasicCalculations = "basic_calculations"
	FeatureTrigonometry      = "trigonometry"
	FeatureLogarithms        = "logarithms"
	FeatureConstants         = "constants"
	FeatureVariables         = "variables"
	FeatureHistory           = "history"
	FeatureHighPrecision     = "high_precision"
	FeaturePhysicsEngine     = "physics_engine"
	FeatureMathEngine        = "math_engine"
	FeatureStatisticsEngine  = "statistics_engine"
	FeatureSymbolicMath      = "symbolic_math"
	FeatureAdvancedFunctions = "advanced_functions"
	FeatureExport            = "export_features"
	FeatureCustomPrecision   = "custom_precision"
)

// DefaultFeatures is the unlicensed feature set.
func DefaultFeatures() map[string]bool {
	return map[string]bool{
		FeatureBasicCalculations: true,
		FeatureTrigonometry:      true,
		FeatureLogarithms:        true,
		FeatureConstants:         true,
		FeatureVariables:         true,
		FeatureHistory:           true,
		FeatureHighPrecision:     false,
		FeaturePhysicsEngine:     false,
		FeatureMathEngine:        false,
		FeatureStatisticsEngine:  false,
		FeatureSymbolicMath:      false,
		FeatureAdvancedFunctions: false,
		FeatureExport:            false,
		FeatureCustomPrecision:   false,
	}
}

var tierFeatures = map[LicenseType][]string{
	LicenseTypeStudent: {
		FeatureHighPrecision, FeaturePhysicsEngine, FeatureMathEngine,
		FeatureStatisticsEngine, FeatureCustomPrecision,
	},
	LicenseTypePro: {
		FeatureHighPrecision, FeaturePhysicsEngine, FeatureMathEngine,
		FeatureStatisticsEngine, FeatureSymbolicMath, FeatureAdvancedFunctions,
		FeatureCustomPrecision,
	},
	LicenseTypeBusiness: {
		FeatureHighPrecision, FeaturePhysicsEngine, FeatureMathEngine,
		FeatureStatisticsEngine, FeatureSymbolicMath, FeatureAdvancedFunctions,
		FeatureExport, FeatureCustomPrecision,
	},
}

// FeaturesFor returns the feature set unlocked by a license tier.
func FeaturesFor(t LicenseType) map[string]bool {
	features := DefaultFeatures()
	for _, f := range tierFeatures[t] {
		features[f] = true
	}
	return features
}
