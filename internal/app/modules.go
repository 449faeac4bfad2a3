package app

import (
	"github.com/vk/levelflow/internal/registry"
	"github.com/vk/levelflow/modules/data_grabber"
	"github.com/vk/levelflow/modules/data_sink"
	"github.com/vk/levelflow/modules/freesurfer"
	"github.com/vk/levelflow/modules/identity"
	"github.com/vk/levelflow/modules/merge"
	"github.com/vk/levelflow/modules/spm"
)

// coreModules is the definitive list of all modules that are compiled into
// the levelflow binary. Their manifests are embedded by the modules package.
var coreModules = []registry.Module{
	&identity.Module{},
	&data_grabber.Module{},
	&merge.Module{},
	&data_sink.Module{},
	&spm.Module{},
	&freesurfer.Module{},
}
