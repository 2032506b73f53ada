package materials

func builtinSubstrates() []Substrate {
	return []Substrate{
		{Key: "FR4", Name: "FR4", EpsR: 4.4, LossTangent: 0.02, ThicknessMM: 1.6, CostTier: TierBudget,
			Application: "General purpose PCB, moderate loss"},
		{Key: "FR4_High_Tg", Name: "FR4 High Tg", EpsR: 4.5, LossTangent: 0.018, ThicknessMM: 1.6, CostTier: TierStandard,
			Application: "High temperature applications"},
		{Key: "RO4003C", Name: "Rogers RO4003C", EpsR: 3.38, LossTangent: 0.0027, ThicknessMM: 1.524, CostTier: TierPremium,
			Application: "Low loss RF and antennas"},
		{Key: "RO4350B", Name: "Rogers RO4350B", EpsR: 3.48, LossTangent: 0.0037, ThicknessMM: 1.524, CostTier: TierPremium,
			Application: "Automotive radar, 5G"},
		{Key: "RO5880", Name: "Rogers RO5880", EpsR: 2.2, LossTangent: 0.0009, ThicknessMM: 0.787, CostTier: TierPremium,
			Application: "Ultra-low loss, satellite communications"},
		{Key: "RO3003", Name: "Rogers RO3003", EpsR: 3.0, LossTangent: 0.0013, ThicknessMM: 1.524, CostTier: TierPremium,
			Application: "Temperature-stable low loss"},
		{Key: "RO3010", Name: "Rogers RO3010", EpsR: 10.2, LossTangent: 0.0022, ThicknessMM: 1.27, CostTier: TierPremium,
			Application: "High permittivity for miniaturization"},
		{Key: "TLX-8", Name: "Taconic TLX-8", EpsR: 2.55, LossTangent: 0.0019, ThicknessMM: 1.575, CostTier: TierPremium},
		{Key: "TLY-5", Name: "Taconic TLY-5", EpsR: 2.2, LossTangent: 0.0009, ThicknessMM: 0.787, CostTier: TierPremium},
		{Key: "AD250C", Name: "Arlon AD250C", EpsR: 2.5, LossTangent: 0.0014, ThicknessMM: 1.524, CostTier: TierPremium},
		{Key: "Polyimide", Name: "Polyimide (Kapton)", EpsR: 3.5, LossTangent: 0.002, ThicknessMM: 0.05, CostTier: TierStandard,
			Application: "Flexible substrates"},
		{Key: "Air", Name: "Air", EpsR: 1.0, LossTangent: 0, CostTier: TierBudget},

		// Names used by project descriptors.
		{Key: "Rogers RO4003", Name: "Rogers RO4003", EpsR: 3.38, LossTangent: 0.0027, CostTier: TierPremium},
		{Key: "Rogers RT/duroid 5880", Name: "Rogers RT/duroid 5880", EpsR: 2.2, LossTangent: 0.0009, CostTier: TierPremium},
		{Key: "Rogers RT/duroid 6002", Name: "Rogers RT/duroid 6002", EpsR: 2.94, LossTangent: 0.0012, CostTier: TierPremium},
		{Key: "Custom", Name: "Custom", EpsR: 4.4, LossTangent: 0.02, CostTier: TierBudget},
	}
}

func builtinConductors() []Conductor {
	return []Conductor{
		{Key: "Copper", Name: "Copper", Conductivity: 5.96e7, CostTier: TierStandard},
		{Key: "Gold", Name: "Gold", Conductivity: 4.1e7, CostTier: TierPremium},
		{Key: "Silver", Name: "Silver", Conductivity: 6.3e7, CostTier: TierPremium},
		{Key: "Aluminum", Name: "Aluminum", Conductivity: 3.5e7, CostTier: TierStandard},
	}
}
